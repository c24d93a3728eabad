// Package render turns token credentials into scannable images.
package render

import (
	"encoding/base64"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the edge length in pixels of rendered codes.
const DefaultSize = 256

// QR renders tokens as PNG QR codes embedded in data URLs.
type QR struct {
	Size  int
	Level qrcode.RecoveryLevel
}

func NewQR(size int) *QR {
	if size <= 0 {
		size = DefaultSize
	}
	return &QR{Size: size, Level: qrcode.Medium}
}

// Render returns "data:image/png;base64,..." for token.
func (q *QR) Render(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("render: empty token")
	}
	png, err := qrcode.Encode(token, q.Level, q.Size)
	if err != nil {
		return "", fmt.Errorf("render: encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

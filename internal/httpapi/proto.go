package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Kiosk readers post unlock requests as a serialized google.protobuf.Struct
// and read the reply in the same encoding.
const protobufContentType = "application/x-protobuf"

// maxRequestBody caps JSON and protobuf bodies alike.
const maxRequestBody = 4096

var errBodyTooLarge = errors.New("request body too large")

func isProtobuf(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	switch mt {
	case protobufContentType, "application/protobuf", "application/octet-stream":
		return true
	}
	return false
}

// readStruct decodes the body as a Struct, refusing anything over
// maxRequestBody rather than parsing a truncated message.
func readStruct(r *http.Request) (*structpb.Struct, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxRequestBody {
		return nil, errBodyTooLarge
	}
	msg := &structpb.Struct{}
	if err := proto.Unmarshal(body, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func writeStruct(w http.ResponseWriter, status int, msg *structpb.Struct) {
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protobufContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

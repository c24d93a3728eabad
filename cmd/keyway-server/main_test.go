package main

import (
	"bytes"
	"context"
	"log"
	"path/filepath"
	"testing"

	"github.com/BrandonDHaskell/keyway/internal/config"
	"github.com/BrandonDHaskell/keyway/internal/db"
)

func TestOpenStores_SeedsDevResource(t *testing.T) {
	for _, kind := range []string{"memory", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			cfg := config.Default()
			cfg.Store = kind
			cfg.DBPath = filepath.Join(t.TempDir(), "keyway.db")
			cfg.SeedDev = true

			logger := log.New(bytes.NewBuffer(nil), "", 0)
			st, err := openStores(context.Background(), cfg, logger)
			if err != nil {
				t.Fatalf("openStores: %v", err)
			}
			defer st.close()

			res, err := st.resources.GetResource(context.Background(), db.DevResourceID)
			if err != nil {
				t.Fatalf("get seeded resource: %v", err)
			}
			if !res.Active {
				t.Error("expected seeded resource to be active")
			}
			if len(res.OTPSecret) == 0 {
				t.Error("expected seeded resource to carry an otp secret")
			}
			if string(res.OTPSecret) == res.LockID {
				t.Error("otp secret must not be the lock id")
			}
		})
	}
}

func TestOpenStores_SeedKeepsExistingSecret(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "keyway.db")
	logger := log.New(bytes.NewBuffer(nil), "", 0)

	first, err := openStores(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	res1, err := first.resources.GetResource(context.Background(), db.DevResourceID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first.close()

	second, err := openStores(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.close()
	res2, err := second.resources.GetResource(context.Background(), db.DevResourceID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(res1.OTPSecret, res2.OTPSecret) {
		t.Error("reseeding must not rotate the otp secret")
	}
}

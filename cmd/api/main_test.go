package main

import (
	"context"
	"testing"

	"github.com/radif/gallery/internal/config"
)

func TestOpenStorageRejectsUnknownDriver(t *testing.T) {
	store, err := openStorage(context.Background(), &config.Config{StorageDriver: "ftp"})
	if err == nil {
		t.Fatalf("openStorage() = %v, want an error", store)
	}
}

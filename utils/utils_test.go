package utils

import (
	"context"
	"net/http"
	"testing"
	"time"

	"lab-competition-system/config"
)

func TestNewHTTPClientBoundsDialTimeout(t *testing.T) {
	c := NewHTTPClient(45 * time.Second)
	if c.Timeout != 45*time.Second {
		t.Fatalf("timeout: %v", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport: %T", c.Transport)
	}
	if tr.TLSHandshakeTimeout != 10*time.Second {
		t.Fatalf("handshake timeout: %v", tr.TLSHandshakeTimeout)
	}

	if d := NewHTTPClient(0); d.Timeout != 30*time.Second {
		t.Fatalf("default timeout: %v", d.Timeout)
	}
}

func TestNewS3StoreWithoutBucket(t *testing.T) {
	store, err := NewS3Store(context.Background(), config.S3Config{})
	if err != nil || store != nil {
		t.Fatalf("store=%v err=%v", store, err)
	}
}

func TestNewS3StoreWithEndpoint(t *testing.T) {
	store, err := NewS3Store(context.Background(), config.S3Config{
		Endpoint:        "http://127.0.0.1:9000",
		Bucket:          "results",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if store == nil || store.bucket != "results" {
		t.Fatalf("store: %+v", store)
	}
}

package grpc

import (
	"context"
	"testing"
	"time"
)

func TestHealthRoundTrip(t *testing.T) {
	srv, err := NewHealthServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewHealthServer: %v", err)
	}
	srv.Start()
	defer srv.Stop()

	c, err := NewClient(srv.Addr(), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()
	if got, err := c.Check(ctx, ""); err != nil || got != "SERVING" {
		t.Fatalf("overall status = %q, %v", got, err)
	}
	if got, _ := c.Check(ctx, ServiceWorker); got != "NOT_SERVING" {
		t.Errorf("worker before the first cycle = %q", got)
	}

	srv.SetServing(ServiceWorker, true)
	srv.SetServing(ServiceFeed, false)
	if got, _ := c.Check(ctx, ServiceWorker); got != "SERVING" {
		t.Errorf("worker = %q, want SERVING", got)
	}
	if got, _ := c.Check(ctx, ServiceFeed); got != "NOT_SERVING" {
		t.Errorf("feed = %q, want NOT_SERVING", got)
	}
	if _, err := c.Check(ctx, "unknown"); err == nil {
		t.Error("unknown service should be NotFound")
	}
}

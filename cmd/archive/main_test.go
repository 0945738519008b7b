package main

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jmerrifield20/chainledger/internal/archive"
)

func checkStatus(t *testing.T, hs *health.Server, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("check %q: %v", service, err)
	}
	return resp.GetStatus()
}

func TestSyncHealth_reportsShardStatus(t *testing.T) {
	ctx := context.Background()
	host := archive.NewMemoryProvisioner()
	running, err := host.Provision(ctx, archive.ShardSpec{Capacity: 10})
	if err != nil {
		t.Fatal(err)
	}
	stopped, err := host.Provision(ctx, archive.ShardSpec{Capacity: 10})
	if err != nil {
		t.Fatal(err)
	}
	if err := host.Stop(ctx, stopped.Ref()); err != nil {
		t.Fatal(err)
	}

	hs := health.NewServer()
	syncHealth(ctx, host, hs, zap.NewNop())

	if got := checkStatus(t, hs, nodeService); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("node: got %v", got)
	}
	if got := checkStatus(t, hs, shardService(running.Ref())); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("running shard: got %v", got)
	}
	if got := checkStatus(t, hs, shardService(stopped.Ref())); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("stopped shard: got %v", got)
	}

	if err := host.Start(ctx, stopped.Ref()); err != nil {
		t.Fatal(err)
	}
	syncHealth(ctx, host, hs, zap.NewNop())
	if got := checkStatus(t, hs, shardService(stopped.Ref())); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("restarted shard: got %v", got)
	}
}

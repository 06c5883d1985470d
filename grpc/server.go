package grpc

import (
	"fmt"
	"log"
	"net"

	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// 健康服务上报的服务名
const (
	ServiceFeed   = "feed"
	ServiceWorker = "worker"
)

// HealthServer 提供标准 gRPC 健康检查服务
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
}

// NewHealthServer 在 address 上监听。各服务在首个周期上报前为 NOT_SERVING，
// 整体状态 ("") 在进程运行期间为 SERVING。
func NewHealthServer(address string) (*HealthServer, error) {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, svc := range []string{ServiceFeed, ServiceWorker} {
		hs.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	return &HealthServer{server: s, health: hs, listener: lis}, nil
}

// Start 在后台启动服务
func (h *HealthServer) Start() {
	go func() {
		if err := h.server.Serve(h.listener); err != nil {
			log.Printf("Health server stopped: %v", err)
		}
	}()
	log.Printf("Health server listening on %s", h.listener.Addr())
}

// Addr 返回实际监听地址
func (h *HealthServer) Addr() string {
	return h.listener.Addr().String()
}

// SetServing 更新单个服务的状态
func (h *HealthServer) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(service, status)
}

// Stop 将所有服务标记为 NOT_SERVING 并停止服务器
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}

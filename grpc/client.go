package grpc

import (
	"context"
	"fmt"
	"time"

	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client 封装 gRPC 健康检查客户端连接
type Client struct {
	conn          *grpc.ClientConn
	healthClient  healthpb.HealthClient
	serverAddress string
	timeout       time.Duration
}

// NewClient 创建新的 gRPC 客户端
func NewClient(serverAddress string, timeout time.Duration) (*Client, error) {
	conn, err := grpc.NewClient(serverAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	return &Client{
		conn:          conn,
		healthClient:  healthpb.NewHealthClient(conn),
		serverAddress: serverAddress,
		timeout:       timeout,
	}, nil
}

// Close 关闭 gRPC 连接
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Check 查询服务的健康状态，service 为空表示整个进程
func (c *Client) Check(ctx context.Context, service string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.healthClient.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", fmt.Errorf("health check of %q at %s failed: %w", service, c.serverAddress, err)
	}
	return resp.GetStatus().String(), nil
}

package gateway

import (
	"context"

	"mpsdash/internal/domain/mps"
)

// Typed shortcuts for the widgets. Every one of them is a cached POST with
// the filters passed through as the JSON body.

func (g *Gateway) Customers(ctx context.Context, filters map[string]any) (mps.Result, error) {
	return g.cachedPost(ctx, mps.PathCustomers, filters)
}

func (g *Gateway) Devices(ctx context.Context, filters map[string]any) (mps.Result, error) {
	return g.cachedPost(ctx, mps.PathDevices, filters)
}

func (g *Gateway) DeviceCounters(ctx context.Context, filters map[string]any) (mps.Result, error) {
	return g.cachedPost(ctx, mps.PathDeviceCounters, filters)
}

func (g *Gateway) Alerts(ctx context.Context, filters map[string]any) (mps.Result, error) {
	return g.cachedPost(ctx, mps.PathAlerts, filters)
}

func (g *Gateway) DeviceDetail(ctx context.Context, deviceID string) (mps.Result, error) {
	return g.cachedPost(ctx, mps.PathDeviceDetail, map[string]any{"id": deviceID}, "id")
}

func (g *Gateway) cachedPost(ctx context.Context, path string, body map[string]any, required ...string) (mps.Result, error) {
	return g.Request(ctx, mps.Request{
		Path:   path,
		Method: "POST",
		Body:   body,
		Options: mps.RequestOptions{
			UseCache:       true,
			RequiredFields: required,
		},
	})
}

package metrics

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// DefaultExportInterval is how often collected metrics are written out.
const DefaultExportInterval = time.Minute

// ExportDisabled as a metrics path turns exporting off.
const ExportDisabled = "off"

// NewProvider builds a MeterProvider that writes one JSON document per
// export interval to w.
func NewProvider(w io.Writer, interval time.Duration) (*sdkmetric.MeterProvider, error) {
	if interval <= 0 {
		interval = DefaultExportInterval
	}
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), nil
}

// Setup registers a global MeterProvider that appends metrics to the file at
// path. The returned shutdown flushes pending data and closes the file.
// An empty path or ExportDisabled leaves the global provider untouched.
func Setup(path string, interval time.Duration) (func(context.Context) error, error) {
	path = strings.TrimSpace(path)
	if path == "" || strings.EqualFold(path, ExportDisabled) {
		return func(context.Context) error { return nil }, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open metrics file: %w", err)
	}
	mp, err := NewProvider(f, interval)
	if err != nil {
		f.Close()
		return nil, err
	}
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		shutdownErr := mp.Shutdown(ctx)
		if err := f.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
		return shutdownErr
	}, nil
}

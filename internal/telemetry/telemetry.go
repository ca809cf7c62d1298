package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
)

// InstrumentationName 指标作用域名称
const InstrumentationName = "github.com/getcharzp/receipt-ocr"

// Shutdown 刷新并关闭指标导出
type Shutdown func(ctx context.Context) error

// Setup 设置全局 MeterProvider，OTLP 地址等参数从 OTEL_EXPORTER_OTLP_* 环境变量读取
func Setup(ctx context.Context, serviceName string, interval time.Duration) (Shutdown, error) {
	exporter, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, err
	}

	return install(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)), serviceName)
}

func install(reader sdkmetric.Reader, serviceName string) (Shutdown, error) {
	resource, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource),
	)

	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

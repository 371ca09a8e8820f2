package downstream

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/matheusmosca/order-saga-orchestrator/internal/resilience"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Options agrupa as dependências compartilhadas pelos clientes downstream
type Options struct {
	// HTTP é o cliente resty compartilhado. Se nil, um novo é criado.
	HTTP *resty.Client

	// Registry recebe um breaker por operação, agrupado por serviço
	Registry *resilience.Registry

	// Breaker é o template de configuração; Name é preenchido por operação
	Breaker resilience.BreakerConfig

	Retry  resilience.RetryPolicy
	Logger zerolog.Logger
}

// NewHTTPClient cria o cliente resty usado pelos serviços downstream
func NewHTTPClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

func (o Options) httpClient() *resty.Client {
	if o.HTTP != nil {
		return o.HTTP
	}
	return NewHTTPClient(o.Breaker.Timeout + time.Second)
}

type endpoint struct {
	name    string
	path    string
	wrapper *resilience.Wrapper
}

func (o Options) endpoint(service, operation, path string) endpoint {
	config := o.Breaker
	config.Name = service + "." + operation
	return endpoint{
		name:    config.Name,
		path:    path,
		wrapper: resilience.NewWrapper(o.Registry.Breaker(service, config), o.Retry, o.Logger),
	}
}

type client struct {
	http    *resty.Client
	baseURL string
	logger  zerolog.Logger
}

func newClient(service, baseURL string, opts Options) client {
	return client{
		http:    opts.httpClient(),
		baseURL: baseURL,
		logger:  opts.Logger.With().Str("component", "downstream").Str("service", service).Logger(),
	}
}

// post envia body para o endpoint com retry e circuit breaker.
// out, quando informado, recebe o JSON de uma resposta 2xx.
func (c client) post(ctx context.Context, ep endpoint, body any, out any) error {
	return ep.wrapper.Do(ctx, func(ctx context.Context) error {
		req := c.http.R().
			SetContext(ctx).
			SetBody(body)
		if out != nil {
			req.SetResult(out)
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		resp, err := req.Post(c.baseURL + ep.path)
		if err != nil {
			return fmt.Errorf("%s: %w", ep.name, err)
		}

		if resp.IsError() || (resp.IsSuccess() && isFailureBody(resp.Body())) {
			remote := &RemoteError{
				Operation:  ep.name,
				StatusCode: resp.StatusCode(),
				Body:       string(resp.Body()),
			}
			c.logger.Warn().
				Str("operation", ep.name).
				Int("status", resp.StatusCode()).
				Bool("retryable", remote.Retryable()).
				Msg("❌ downstream call failed")
			return remote
		}
		return nil
	})
}

package dispatch

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/config"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/signature"
)

// Select picks the backend once at startup:
//
//  1. an AMQP broker, consumed by cmd/worker;
//  2. an HTTP broker, when a worker URL the broker can reach is set;
//  3. the external worker, called directly;
//  4. the local in-process runner.
func Select(conf *config.Config, local Runner) (Backend, error) {
	if conf.BrokerIsAMQP() {
		pub, err := NewAMQPPublisher(conf.BrokerURL, conf.BrokerQueue)
		if err != nil {
			return nil, fmt.Errorf("amqp broker: %w", err)
		}
		slog.Info("dispatch backend selected", "backend", BackendBroker, "transport", "amqp", "queue", conf.BrokerQueue)
		return NewBrokerBackend(pub, conf.BrokerQueue, conf.CallbackURL()), nil
	}

	if conf.BrokerConfigured() {
		if conf.WorkerConfigured() && !isLoopback(conf.WorkerURL) {
			pub := NewHTTPPublisher(conf.BrokerURL, conf.BrokerToken, conf.WorkerTimeout)
			slog.Info("dispatch backend selected", "backend", BackendBroker, "transport", "http", "target", WorkerEndpoint(conf.WorkerURL))
			return NewBrokerBackend(pub, WorkerEndpoint(conf.WorkerURL), conf.CallbackURL()), nil
		}
		slog.Warn("broker configured but worker url is missing or loopback, broker cannot reach it", "worker_url", conf.WorkerURL)
	}

	if conf.WorkerConfigured() {
		slog.Info("dispatch backend selected", "backend", BackendWorker, "worker_url", conf.WorkerURL)
		return NewWorkerBackend(conf.WorkerURL, conf.WorkerTimeout, signature.NewSigner(conf.CallbackSigningKey)), nil
	}

	if local == nil {
		return nil, fmt.Errorf("no dispatch backend available: configure WORKER_URL or BROKER_URL")
	}
	slog.Info("dispatch backend selected", "backend", BackendLocal)
	return NewLocalBackend(local), nil
}

// isLoopback reports whether rawURL points at this machine.
func isLoopback(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

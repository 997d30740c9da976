package credentials

import (
	"context"
	"fmt"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const DefaultIpServiceUrl = "https://api.ipify.org"

// IpLookup finds the public IP address of the machine running the command.
type IpLookup struct {
	Url    string
	client *retryablehttp.Client
}

func NewIpLookup(url string) IpLookup {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = zapLeveledLogger{}

	return IpLookup{Url: url, client: client}
}

func (l IpLookup) PublicIp(ctx context.Context) (string, error) {
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, l.Url, nil)
	if err != nil {
		return "", err
	}

	response, err := l.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("failed to look up the public IP address: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("the IP address service %s returned %s", l.Url, response.Status)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, 256))
	if err != nil {
		return "", err
	}

	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("the IP address service %s returned %q, which is not an IP address", l.Url, ip)
	}

	return ip, nil
}

// zapLeveledLogger sends the retryablehttp log messages to the global zap logger.
type zapLeveledLogger struct {
}

func (zapLeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	zap.S().Errorw(msg, keysAndValues...)
}

func (zapLeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	zap.S().Debugw(msg, keysAndValues...)
}

func (zapLeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	zap.S().Debugw(msg, keysAndValues...)
}

func (zapLeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	zap.S().Warnw(msg, keysAndValues...)
}

package almanac

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"lr1110-host/internal/logging"
)

const (
	DefaultURLBase = "https://gls.loracloud.com"
	fullPath       = "/api/v3/almanac/full"

	// crcOffset is where the image header stores its CRC.
	crcOffset = 3
)

// CRC extracts the expected CRC from an almanac image header.
func CRC(image []byte) (uint32, error) {
	if len(image) < crcOffset+4 {
		return 0, fmt.Errorf("almanac image too short (%d bytes)", len(image))
	}
	return binary.LittleEndian.Uint32(image[crcOffset : crcOffset+4]), nil
}

// ReadFile loads a raw almanac image.
func ReadFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read almanac image")
	}
	if _, err := CRC(b); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return b, nil
}

type ServiceConfig struct {
	URLBase string
	Token   string
	// Attempts is the number of requests made before giving up. Requests
	// are spaced by at least RetryEvery.
	Attempts   int
	RetryEvery time.Duration

	Client *http.Client
	Logger *zap.SugaredLogger
}

// Service downloads full almanac images from the cloud almanac service.
type Service struct {
	cfg ServiceConfig
	log *zap.SugaredLogger
}

func NewService(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.URLBase) == "" {
		cfg.URLBase = DefaultURLBase
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryEvery <= 0 {
		cfg.RetryEvery = 2 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{cfg: cfg, log: logging.OrNop(cfg.Logger)}
}

type fullResponse struct {
	Result struct {
		AlmanacImage string `json:"almanac_image"`
	} `json:"result"`
	Errors []string `json:"errors"`
}

// StatusError is a non-2xx answer from the almanac service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("almanac service returned %d: %s", e.StatusCode, e.Body)
}

// Fetch downloads the full almanac image. Server errors and transport
// failures are retried; client errors are not.
func (s *Service) Fetch(ctx context.Context) ([]byte, error) {
	rl := ratelimit.New(1, ratelimit.Per(s.cfg.RetryEvery))
	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		rl.Take()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		image, err := s.fetchOnce(ctx)
		if err == nil {
			return image, nil
		}
		lastErr = err
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode < 500 {
			break
		}
		s.log.Warnf("almanac fetch attempt %d/%d failed: %v", attempt, s.cfg.Attempts, err)
	}
	return nil, lastErr
}

func (s *Service) fetchOnce(ctx context.Context) ([]byte, error) {
	url := strings.TrimRight(s.cfg.URLBase, "/") + fullPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build almanac request")
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", s.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "almanac request")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read almanac response")
	}
	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var doc fullResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Wrap(err, "decode almanac response")
	}
	if len(doc.Errors) > 0 {
		return nil, fmt.Errorf("almanac service: %s", strings.Join(doc.Errors, "; "))
	}
	image, err := base64.StdEncoding.DecodeString(doc.Result.AlmanacImage)
	if err != nil {
		return nil, errors.Wrap(err, "decode almanac image")
	}
	if _, err := CRC(image); err != nil {
		return nil, err
	}
	s.log.Infof("almanac fetched from %s", s.cfg.URLBase)
	return image, nil
}

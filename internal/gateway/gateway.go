// Package gateway adapts the external vehicle-detail collaborator. It
// owns plate normalization and the timeout boundary; the payload itself
// is passed through opaquely.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/nanacinema/rcfinder/internal/domain"
)

var (
	ErrInvalidPlate  = errors.New("invalid plate format")
	ErrNoRecord      = errors.New("no record for plate")
	ErrUpstream      = errors.New("upstream lookup error")
	ErrLookupTimeout = errors.New("upstream lookup timed out")
)

// Registration syntax: state code, district number, optional series,
// running number. Matches identifiers like KL70C1679 or MH12DE1433.
var plateRe = regexp.MustCompile(`^[A-Z]{2}[0-9]{1,2}[A-Z]{0,3}[0-9]{1,4}$`)

// Normalize trims and uppercases a raw plate identifier and validates its
// syntax. Callers must not contact the collaborator when this fails.
func Normalize(raw string) (string, error) {
	plate := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	if !plateRe.MatchString(plate) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlate, raw)
	}
	return plate, nil
}

// Client queries the vehicle-detail collaborator over HTTP with a bounded
// timeout. A slow or unreachable upstream resolves to ErrLookupTimeout or
// ErrUpstream rather than hanging the dispatcher.
type Client struct {
	base string
	http *http.Client
}

func New(base string, timeout time.Duration) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
	}
}

// Lookup fetches the detail record for an already-normalized plate.
func (c *Client) Lookup(ctx context.Context, plate string) (*domain.VehicleDetail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+url.QueryEscape(plate), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrLookupTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNoRecord, plate)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrLookupTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRecord, plate)
	}
	return &domain.VehicleDetail{Plate: plate, Raw: raw}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

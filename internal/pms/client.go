package pms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"github.com/stayhub/checkout/internal/apierr"
	"github.com/stayhub/checkout/internal/circuitbreaker"
	"github.com/stayhub/checkout/internal/config"
	"github.com/stayhub/checkout/internal/httputil"
	"github.com/stayhub/checkout/internal/rpcutil"
)

// Client is the PMS adapter. One instance is constructed at wiring time
// and shared read-only across request handlers.
type Client struct {
	cfg        config.PMSConfig
	readClient *http.Client
	writeClient *http.Client
	breaker    *circuitbreaker.Manager
	limiter    ratelimit.Limiter
	logger     zerolog.Logger
}

// New constructs a PMS adapter. breaker may be shared with the PSP adapter
// under the caller's circuitbreaker.Manager; this adapter always calls it
// under circuitbreaker.ServicePMS so the two are isolated bulkheads.
func New(cfg config.PMSConfig, breaker *circuitbreaker.Manager, logger zerolog.Logger) *Client {
	readTimeout := cfg.ReadTimeout.Duration
	if readTimeout <= 0 {
		readTimeout = 8 * time.Second
	}
	writeTimeout := cfg.WriteTimeout.Duration
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	var limiter ratelimit.Limiter
	if cfg.ReadRateRPS > 0 {
		limiter = ratelimit.New(cfg.ReadRateRPS)
	} else {
		limiter = ratelimit.NewUnlimited()
	}

	return &Client{
		cfg:         cfg,
		readClient:  httputil.NewClient(readTimeout),
		writeClient: httputil.NewClient(writeTimeout),
		breaker:     breaker,
		limiter:     limiter,
		logger:      logger,
	}
}

// GetListingDetail fetches display data for a listing (read, cacheable).
func (c *Client) GetListingDetail(ctx context.Context, listingID string) (ListingDetail, error) {
	var out ListingDetail
	err := c.read(ctx, "GET", "/listings/"+url.PathEscape(listingID), nil, &out)
	return out, err
}

// CalculatePrice prices a stay against the PMS's pricing engine (read).
func (c *Client) CalculatePrice(ctx context.Context, req CalculatePriceRequest) (CalculatedPrice, error) {
	q := url.Values{}
	q.Set("listingId", req.ListingID)
	q.Set("checkIn", req.CheckIn)
	q.Set("checkOut", req.CheckOut)
	q.Set("adults", strconv.Itoa(req.Adults))
	q.Set("children", strconv.Itoa(req.Children))
	q.Set("infants", strconv.Itoa(req.Infants))
	if req.CouponCode != "" {
		q.Set("couponCode", req.CouponCode)
	}
	var out CalculatedPrice
	err := c.read(ctx, "GET", "/pricing/calculate?"+q.Encode(), nil, &out)
	return out, err
}

// GetCalendar fetches availability for a listing over a date range (read).
func (c *Client) GetCalendar(ctx context.Context, listingID, from, to string) ([]CalendarDay, error) {
	q := url.Values{"from": {from}, "to": {to}}
	var out []CalendarDay
	err := c.read(ctx, "GET", "/listings/"+url.PathEscape(listingID)+"/calendar?"+q.Encode(), nil, &out)
	return out, err
}

// SearchListings runs a listing search (read).
func (c *Client) SearchListings(ctx context.Context, query SearchListingsQuery) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("checkIn", query.CheckIn)
	q.Set("checkOut", query.CheckOut)
	q.Set("adults", strconv.Itoa(query.Adults))
	if query.Query != "" {
		q.Set("q", query.Query)
	}
	var out []SearchResult
	err := c.read(ctx, "GET", "/listings/search?"+q.Encode(), nil, &out)
	return out, err
}

// CreateReservation creates a PMS hold or booking (transactional write, no
// retries: the PMS lacks an idempotency key, and a retried create would
// double-book).
func (c *Client) CreateReservation(ctx context.Context, req CreateReservationRequest) (Reservation, error) {
	var out Reservation
	err := c.write(ctx, "POST", "/reservations", req, &out)
	return out, err
}

// UpdateReservation patches a reservation (e.g. type: booked). Write, no
// retries; the PMS treats repeated identical patches as a no-op, so the
// orchestrator's own replay tolerance carries the safety, not this
// adapter retrying blindly.
func (c *Client) UpdateReservation(ctx context.Context, reservationID string, patch map[string]any) (Reservation, error) {
	var out Reservation
	err := c.write(ctx, "PATCH", "/reservations/"+url.PathEscape(reservationID), patch, &out)
	return out, err
}

// CancelReservation cancels a reservation (write, no retries; tolerant of
// NOT_FOUND by the caller, not this adapter).
func (c *Client) CancelReservation(ctx context.Context, reservationID string) error {
	return c.write(ctx, "POST", "/reservations/"+url.PathEscape(reservationID)+"/cancel", nil, nil)
}

// GetReservation fetches a reservation's current record (read).
func (c *Client) GetReservation(ctx context.Context, reservationID string) (Reservation, error) {
	var out Reservation
	err := c.read(ctx, "GET", "/reservations/"+url.PathEscape(reservationID), nil, &out)
	return out, err
}

// RegisterPayment records a captured payment against a reservation (write,
// no retries; reference is the PMS's dedup key for replayed webhooks).
func (c *Client) RegisterPayment(ctx context.Context, reservationID string, req RegisterPaymentRequest) error {
	return c.write(ctx, "POST", "/reservations/"+url.PathEscape(reservationID)+"/payments", req, nil)
}

// read executes a cacheable read: up to 2 retries with exponential backoff
// (1s, 2s), paced by the read-side rate limiter, inside the PMS circuit
// breaker.
func (c *Client) read(ctx context.Context, method, path string, body, out any) error {
	_, err := rpcutil.WithRetryCustom(ctx, rpcutil.DefaultRetryConfig(), func() (struct{}, error) {
		c.limiter.Take()
		_, execErr := c.breaker.Execute(circuitbreaker.ServicePMS, func() (interface{}, error) {
			return nil, c.do(ctx, c.readClient, method, path, body, out)
		})
		return struct{}{}, execErr
	})
	return err
}

// write executes a transactional write: no retries, still isolated
// behind the PMS circuit breaker.
func (c *Client) write(ctx context.Context, method, path string, body, out any) error {
	_, err := c.breaker.Execute(circuitbreaker.ServicePMS, func() (interface{}, error) {
		return nil, c.do(ctx, c.writeClient, method, path, body, out)
	})
	return err
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apierr.Wrap(apierr.CodeInternal, "encode PMS request", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return apierr.Wrap(apierr.CodeInternal, "build PMS request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apierr.Wrap(apierr.CodePMSTimeout, "PMS request timed out", err)
		}
		return apierr.Wrap(apierr.CodePMSTimeout, fmt.Sprintf("PMS request failed (timeout/network): %s %s", method, path), err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 {
		return apierr.Newf(apierr.CodePMSServerError, "PMS returned status %d for %s %s", resp.StatusCode, method, path).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": string(respBody)})
	}
	if resp.StatusCode >= 400 {
		return apierr.Newf(apierr.CodePMSClientError, "PMS returned status %d for %s %s", resp.StatusCode, method, path).
			WithUpstreamStatus(resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": string(respBody)})
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apierr.Wrap(apierr.CodeInternal, "decode PMS response", err)
		}
	}
	return nil
}

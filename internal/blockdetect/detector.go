package blockdetect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/splitwire/internal/utils"
)

// ErrDNSCheckFailed is returned per domain when its TXT record cannot
// be fetched or parsed; the chain advances to the next domain.
var ErrDNSCheckFailed = errors.New("dns check failed")

// State is the mutable block-detection state. Updated only by a
// successful DNS refresh. Enabled doubles as a circuit breaker: once
// cleared after full chain exhaustion it stays cleared for the process
// lifetime.
type State struct {
	Enabled     bool
	BlockMarker string
	RedirectURL string
	DNSDomains  []string
	LastUpdate  time.Time
}

// Detector verifies that the served root document still carries the
// block marker, and refreshes redirect configuration over a DNS-TXT
// side channel when it does not.
type Detector struct {
	client      utils.HTTPDoer
	origin      string
	resolverURL string

	mu    sync.Mutex
	state State
}

func New(client utils.HTTPDoer, origin, resolverURL string, initial State) *Detector {
	if host := originHost(origin); host != "" {
		// The current host always leads the chain.
		if len(initial.DNSDomains) == 0 || initial.DNSDomains[0] != host {
			initial.DNSDomains = append([]string{host}, initial.DNSDomains...)
		}
	}
	return &Detector{
		client:      client,
		origin:      strings.TrimSuffix(origin, "/"),
		resolverURL: resolverURL,
		state:       initial,
	}
}

func originHost(origin string) string {
	parsed, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// State returns a copy of the current detection state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	state := d.state
	state.DNSDomains = append([]string(nil), d.state.DNSDomains...)
	return state
}

func (d *Detector) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Enabled
}

// CheckNavigation runs the full check for one navigation request. It
// returns a redirect target when the served document was substituted in
// transit, or "" when the navigation should proceed unmodified.
func (d *Detector) CheckNavigation(ctx context.Context) string {
	d.mu.Lock()
	enabled := d.state.Enabled
	marker := d.state.BlockMarker
	d.mu.Unlock()
	if !enabled || marker == "" {
		return ""
	}

	if d.markerPresent(ctx, marker) {
		return ""
	}

	// Content was substituted in transit: walk the DNS chain to pick
	// up fresh configuration, then redirect to the latest known mirror.
	d.refreshFromDNS(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.RedirectURL
}

// markerPresent fetches the root document bypassing every cache and
// scans the body for the marker.
func (d *Detector) markerPresent(ctx context.Context, marker string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.origin+"/", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return false
	}
	return strings.Contains(string(body), marker)
}

// refreshFromDNS walks the domain chain in order. The first domain that
// yields a well-formed record overwrites the state and stops the chain.
// If every domain fails the detector disables itself permanently for
// this process instance.
func (d *Detector) refreshFromDNS(ctx context.Context) {
	d.mu.Lock()
	domains := append([]string(nil), d.state.DNSDomains...)
	d.mu.Unlock()

	for _, domain := range domains {
		record, err := d.queryTXT(ctx, domain)
		if err != nil {
			continue
		}
		d.mu.Lock()
		d.state.Enabled = record.Enabled
		d.state.BlockMarker = record.Marker
		d.state.RedirectURL = record.RedirectURL
		d.state.LastUpdate = time.Now()
		d.mu.Unlock()
		return
	}

	d.mu.Lock()
	d.state.Enabled = false
	d.mu.Unlock()
}

type txtRecord struct {
	Enabled     bool
	Marker      string
	RedirectURL string
}

type dnsAnswer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	Data string `json:"data"`
}

type dnsResponse struct {
	Status int         `json:"Status"`
	Answer []dnsAnswer `json:"Answer"`
}

// queryTXT resolves the domain's TXT record through the configured
// DNS-over-HTTPS resolver and parses the structured payload
// [enabledFlag, marker, redirectUrl].
func (d *Detector) queryTXT(ctx context.Context, domain string) (*txtRecord, error) {
	queryURL := fmt.Sprintf("%s?name=%s&type=TXT", d.resolverURL, url.QueryEscape(domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDNSCheckFailed, err)
	}
	req.Header.Set("Accept", "application/dns-json")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDNSCheckFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDNSCheckFailed, resp.StatusCode)
	}
	var parsed dnsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDNSCheckFailed, err)
	}
	if len(parsed.Answer) == 0 {
		return nil, fmt.Errorf("%w: empty answer section for %s", ErrDNSCheckFailed, domain)
	}
	return parseTXTData(parsed.Answer[0].Data)
}

// parseTXTData decodes the quoted TXT payload into a record. The
// payload is a JSON array [0|1, marker, redirectUrl].
func parseTXTData(data string) (*txtRecord, error) {
	trimmed := strings.Trim(data, "\"")
	trimmed = strings.ReplaceAll(trimmed, "\\\"", "\"")
	var fields []any
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil, fmt.Errorf("%w: malformed record: %v", ErrDNSCheckFailed, err)
	}
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: record has %d fields, want 3", ErrDNSCheckFailed, len(fields))
	}
	flag, ok := fields[0].(float64)
	if !ok {
		return nil, fmt.Errorf("%w: enabled flag is not a number", ErrDNSCheckFailed)
	}
	marker, ok := fields[1].(string)
	if !ok {
		return nil, fmt.Errorf("%w: marker is not a string", ErrDNSCheckFailed)
	}
	redirect, ok := fields[2].(string)
	if !ok {
		return nil, fmt.Errorf("%w: redirect url is not a string", ErrDNSCheckFailed)
	}
	return &txtRecord{
		Enabled:     flag == 1,
		Marker:      marker,
		RedirectURL: redirect,
	}, nil
}

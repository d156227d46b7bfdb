package dns

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mcadmin/mc-admin/pkg/errs"
)

const huaweiSigningAlgorithm = "SDK-HMAC-SHA256"

// HuaweiProvider talks to Huawei Cloud DNS v2. Requests are signed
// with the account's AK/SK pair using the SDK-HMAC-SHA256 scheme.
// Huawei has no batch record update, so it deliberately does not
// implement BatchUpdater.
type HuaweiProvider struct {
	httpClient *http.Client
	baseURL    string
	accessKey  string
	secretKey  string
	domain     string

	zoneID string
}

func NewHuaweiProvider(accessKey, secretKey, region, domain string) *HuaweiProvider {
	if region == "" {
		region = "ap-southeast-1"
	}
	return &HuaweiProvider{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    fmt.Sprintf("https://dns.%s.myhuaweicloud.com", region),
		accessKey:  accessKey,
		secretKey:  secretKey,
		domain:     domain,
	}
}

// NewHuaweiProviderWithBase overrides the endpoint, used by tests
func NewHuaweiProviderWithBase(baseURL, accessKey, secretKey, domain string) *HuaweiProvider {
	p := NewHuaweiProvider(accessKey, secretKey, "test", domain)
	p.baseURL = baseURL
	return p
}

func (p *HuaweiProvider) Domain() string { return p.domain }

// sign computes the SDK-HMAC-SHA256 authorization header over the
// canonical request
func (p *HuaweiProvider) sign(req *http.Request, body []byte) {
	now := time.Now().UTC().Format("20060102T150405Z")
	req.Header.Set("X-Sdk-Date", now)
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.URL.Host)
	}

	var signedHeaders []string
	for name := range req.Header {
		signedHeaders = append(signedHeaders, strings.ToLower(name))
	}
	sort.Strings(signedHeaders)

	var canonicalHeaders strings.Builder
	for _, name := range signedHeaders {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteString(":")
		canonicalHeaders.WriteString(strings.TrimSpace(req.Header.Get(name)))
		canonicalHeaders.WriteString("\n")
	}

	payloadHash := sha256.Sum256(body)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL.Path),
		req.URL.Query().Encode(),
		canonicalHeaders.String(),
		strings.Join(signedHeaders, ";"),
		hex.EncodeToString(payloadHash[:]),
	}, "\n")

	requestHash := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		huaweiSigningAlgorithm,
		now,
		hex.EncodeToString(requestHash[:]),
	}, "\n")

	mac := hmac.New(sha256.New, []byte(p.secretKey))
	mac.Write([]byte(stringToSign))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("Authorization", fmt.Sprintf(
		"%s Access=%s, SignedHeaders=%s, Signature=%s",
		huaweiSigningAlgorithm, p.accessKey, strings.Join(signedHeaders, ";"), signature))
}

func canonicalURI(path string) string {
	if !strings.HasSuffix(path, "/") {
		return path + "/"
	}
	return path
}

func (p *HuaweiProvider) do(ctx context.Context, method, path string, query url.Values, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return errs.Internal(err, "failed to encode huawei dns payload")
		}
	}

	endpoint := p.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return errs.Internal(err, "failed to build huawei dns request")
	}
	req.Header.Set("Content-Type", "application/json")
	p.sign(req, body)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errs.External(err, "huawei dns %s %s failed", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errs.External(nil, "huawei dns %s %s: status %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errs.External(err, "huawei dns %s %s returned undecodable body", method, path)
		}
	}
	return nil
}

// resolveZoneID looks up and caches the public zone id for the domain
func (p *HuaweiProvider) resolveZoneID(ctx context.Context) (string, error) {
	if p.zoneID != "" {
		return p.zoneID, nil
	}

	var result struct {
		Zones []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"zones"`
	}
	query := url.Values{"name": {p.domain}, "type": {"public"}}
	if err := p.do(ctx, http.MethodGet, "/v2/zones", query, nil, &result); err != nil {
		return "", err
	}

	wanted := strings.TrimSuffix(p.domain, ".") + "."
	for _, zone := range result.Zones {
		if zone.Name == wanted {
			p.zoneID = zone.ID
			return p.zoneID, nil
		}
	}
	return "", errs.NotFound("huawei dns has no zone for domain %s", p.domain)
}

type huaweiRecordset struct {
	ID      string   `json:"id,omitempty"`
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	TTL     int      `json:"ttl"`
	Records []string `json:"records"`
}

// fqdn joins a sub-domain with the zone, trailing dot included as the
// API requires
func (p *HuaweiProvider) fqdn(subDomain string) string {
	return subDomain + "." + strings.TrimSuffix(p.domain, ".") + "."
}

func (p *HuaweiProvider) subDomain(fqdn string) string {
	return strings.TrimSuffix(strings.TrimSuffix(fqdn, "."), "."+strings.TrimSuffix(p.domain, "."))
}

func (p *HuaweiProvider) ListRelevantRecords(ctx context.Context, managedSubDomain string) ([]Record, error) {
	zoneID, err := p.resolveZoneID(ctx)
	if err != nil {
		return nil, err
	}

	var result struct {
		Recordsets []huaweiRecordset `json:"recordsets"`
	}
	path := fmt.Sprintf("/v2/zones/%s/recordsets", zoneID)
	if err := p.do(ctx, http.MethodGet, path, url.Values{"limit": {"500"}}, nil, &result); err != nil {
		return nil, err
	}

	var records []Record
	for _, set := range result.Recordsets {
		subDomain := p.subDomain(set.Name)
		if !relevantSubDomain(subDomain, managedSubDomain) {
			continue
		}
		for _, value := range set.Records {
			records = append(records, Record{
				ID:        set.ID,
				SubDomain: subDomain,
				Type:      set.Type,
				Value:     strings.Trim(value, "\""),
				TTL:       set.TTL,
			})
		}
	}
	return records, nil
}

func (p *HuaweiProvider) AddRecords(ctx context.Context, records []Record) error {
	zoneID, err := p.resolveZoneID(ctx)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/v2/zones/%s/recordsets", zoneID)
	for _, record := range records {
		payload := huaweiRecordset{
			Name:    p.fqdn(record.SubDomain),
			Type:    record.Type,
			TTL:     record.TTL,
			Records: []string{record.Value},
		}
		if err := p.do(ctx, http.MethodPost, path, nil, payload, nil); err != nil {
			return fmt.Errorf("add %s %s: %w", record.Type, record.SubDomain, err)
		}
	}
	return nil
}

func (p *HuaweiProvider) RemoveRecords(ctx context.Context, ids []string) error {
	zoneID, err := p.resolveZoneID(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		path := fmt.Sprintf("/v2/zones/%s/recordsets/%s", zoneID, id)
		if err := p.do(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
			return fmt.Errorf("remove recordset %s: %w", id, err)
		}
	}
	return nil
}

package dns

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mcadmin/mc-admin/pkg/errs"
)

const dnspodAPIBase = "https://dnsapi.cn"

// DNSPodProvider talks to the legacy DNSPod API: form-encoded POSTs
// authenticated by an API token.
type DNSPodProvider struct {
	httpClient *http.Client
	baseURL    string
	token      string
	domain     string
}

func NewDNSPodProvider(token, domain string) *DNSPodProvider {
	return &DNSPodProvider{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    dnspodAPIBase,
		token:      token,
		domain:     domain,
	}
}

// NewDNSPodProviderWithBase overrides the endpoint, used by tests
func NewDNSPodProviderWithBase(baseURL, token, domain string) *DNSPodProvider {
	p := NewDNSPodProvider(token, domain)
	p.baseURL = baseURL
	return p
}

func (p *DNSPodProvider) Domain() string { return p.domain }

// dnspodStatus is the envelope every response carries
type dnspodStatus struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p *DNSPodProvider) post(ctx context.Context, path string, form url.Values, out interface{}) error {
	form.Set("login_token", p.token)
	form.Set("format", "json")
	form.Set("domain", p.domain)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return errs.Internal(err, "failed to build dnspod request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errs.External(err, "dnspod %s failed", path)
	}
	defer resp.Body.Close()

	var envelope struct {
		Status dnspodStatus `json:"status"`
	}
	raw := json.NewDecoder(resp.Body)
	if out != nil {
		if err := raw.Decode(out); err != nil {
			return errs.External(err, "dnspod %s returned undecodable body", path)
		}
	} else if err := raw.Decode(&envelope); err != nil {
		return errs.External(err, "dnspod %s returned undecodable body", path)
	}

	// When out was decoded the caller checks its embedded status
	if out == nil && envelope.Status.Code != "1" {
		return errs.External(nil, "dnspod %s: %s (code %s)", path, envelope.Status.Message, envelope.Status.Code)
	}
	return nil
}

type dnspodRecordList struct {
	Status  dnspodStatus `json:"status"`
	Records []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Type  string `json:"type"`
		Value string `json:"value"`
		TTL   string `json:"ttl"`
	} `json:"records"`
}

func (p *DNSPodProvider) ListRelevantRecords(ctx context.Context, managedSubDomain string) ([]Record, error) {
	var list dnspodRecordList
	if err := p.post(ctx, "/Record.List", url.Values{}, &list); err != nil {
		return nil, err
	}
	// Code 10 means "no records", an empty zone rather than an error
	if list.Status.Code != "1" && list.Status.Code != "10" {
		return nil, errs.External(nil, "dnspod Record.List: %s (code %s)", list.Status.Message, list.Status.Code)
	}

	var records []Record
	for _, raw := range list.Records {
		if !relevantSubDomain(raw.Name, managedSubDomain) {
			continue
		}
		ttl, _ := strconv.Atoi(raw.TTL)
		records = append(records, Record{
			ID:        raw.ID,
			SubDomain: raw.Name,
			Type:      raw.Type,
			Value:     raw.Value,
			TTL:       ttl,
		})
	}
	return records, nil
}

func (p *DNSPodProvider) AddRecords(ctx context.Context, records []Record) error {
	for _, record := range records {
		form := url.Values{
			"sub_domain":  {record.SubDomain},
			"record_type": {record.Type},
			"record_line": {"默认"},
			"value":       {record.Value},
			"ttl":         {strconv.Itoa(record.TTL)},
		}
		if err := p.post(ctx, "/Record.Create", form, nil); err != nil {
			return fmt.Errorf("add %s %s: %w", record.Type, record.SubDomain, err)
		}
	}
	return nil
}

func (p *DNSPodProvider) RemoveRecords(ctx context.Context, ids []string) error {
	for _, id := range ids {
		form := url.Values{"record_id": {id}}
		if err := p.post(ctx, "/Record.Remove", form, nil); err != nil {
			return fmt.Errorf("remove record %s: %w", id, err)
		}
	}
	return nil
}

// UpdateRecordsBatch modifies records in place, keeping their ids
func (p *DNSPodProvider) UpdateRecordsBatch(ctx context.Context, records []Record) error {
	for _, record := range records {
		form := url.Values{
			"record_id":   {record.ID},
			"sub_domain":  {record.SubDomain},
			"record_type": {record.Type},
			"record_line": {"默认"},
			"value":       {record.Value},
			"ttl":         {strconv.Itoa(record.TTL)},
		}
		if err := p.post(ctx, "/Record.Modify", form, nil); err != nil {
			return fmt.Errorf("update record %s: %w", record.ID, err)
		}
	}
	return nil
}

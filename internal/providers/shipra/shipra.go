package shipra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/shipmates/tracksync/internal/credentials"
	"github.com/shipmates/tracksync/internal/models"
	"github.com/shipmates/tracksync/internal/providers"
)

const ProviderID = "SHIPRA"

// Shipra отдаёт плоский key/value payload с кодированными датами:
// даты — строки DDMMYYYY, время — строки HHMM. Парсим их осторожно:
// короткая/битая строка даёт nil-поле, а не ошибку адаптера.
type Provider struct {
	httpc *http.Client
}

func New() *Provider {
	return &Provider{
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (p *Provider) ID() string { return ProviderID }

func (p *Provider) FetchOne(ctx context.Context, creds credentials.Credentials, trackingID string) ([]byte, error) {
	base := creds.BaseURL
	if base == "" {
		base = "https://api.shipra.example"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = "/tracking/awbquery"

	q := u.Query()
	q.Set("licencekey", creds.APIKey)
	q.Set("custcode", creds.AccountCode)
	q.Set("awbno", trackingID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("shipra http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

type shipraResp struct {
	AWBNo   string `json:"AWBNO"`
	Origin  string `json:"ORGN"`
	Dest    string `json:"DSTN"`
	BkgDate string `json:"BKGDT"` // DDMMYYYY
	Status  string `json:"STATUS"`
	StDate  string `json:"STDATE"` // DDMMYYYY
	StTime  string `json:"STTIME"` // HHMM
	Error   string `json:"ERROR"`
	Track   []struct {
		Status  string `json:"STATUS"`
		Loc     string `json:"LOC"`
		Remarks string `json:"REMARKS"`
		ScanDt  string `json:"SCANDT"` // DDMMYYYY
		ScanTm  string `json:"SCANTM"` // HHMM
	} `json:"TRACK"`
}

func (p *Provider) Normalize(raw []byte) (models.CanonicalResult, error) {
	var r shipraResp
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.CanonicalResult{}, &providers.NormalizationError{
			ProviderID: ProviderID, Reason: "unparseable payload", Err: err,
		}
	}

	if r.Error != "" {
		return models.CanonicalResult{}, &providers.NormalizationError{
			ProviderID: ProviderID, TrackingID: r.AWBNo,
			Reason: "provider error: " + r.Error,
		}
	}
	if r.AWBNo == "" || r.Status == "" {
		return models.CanonicalResult{}, &providers.NormalizationError{
			ProviderID: ProviderID, TrackingID: r.AWBNo,
			Reason: "no recognizable status block",
		}
	}

	res := models.CanonicalResult{
		TrackingID:      r.AWBNo,
		Origin:          strPtr(r.Origin),
		Destination:     strPtr(r.Dest),
		BookedAt:        parseCodedDate(r.BkgDate, ""),
		CurrentStatus:   strings.TrimSpace(r.Status),
		CurrentStatusAt: parseCodedDate(r.StDate, r.StTime),
	}

	for _, s := range r.Track {
		if s.Status == "" {
			continue
		}
		res.Events = append(res.Events, models.CanonicalEvent{
			Status:    strings.TrimSpace(s.Status),
			Location:  strings.TrimSpace(s.Loc),
			Remarks:   strings.TrimSpace(s.Remarks),
			EventTime: parseCodedDate(s.ScanDt, s.ScanTm),
		})
	}

	return res, nil
}

// parseCodedDate собирает timestamp из строк DDMMYYYY и HHMM.
// Любой мусор на входе -> nil, без ошибки.
func parseCodedDate(ddmmyyyy, hhmm string) *time.Time {
	ddmmyyyy = strings.TrimSpace(ddmmyyyy)
	if len(ddmmyyyy) != 8 || !digitsOnly(ddmmyyyy) {
		return nil
	}

	day := atoi2(ddmmyyyy[0:2])
	month := atoi2(ddmmyyyy[2:4])
	year := atoi2(ddmmyyyy[4:6])*100 + atoi2(ddmmyyyy[6:8])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}

	hour, minute := 0, 0
	hhmm = strings.TrimSpace(hhmm)
	if len(hhmm) == 4 && digitsOnly(hhmm) {
		h := atoi2(hhmm[0:2])
		m := atoi2(hhmm[2:4])
		if h < 24 && m < 60 {
			hour, minute = h, m
		}
	}

	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	return &t
}

func digitsOnly(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func atoi2(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"gopkg.in/yaml.v3"

	appLog "rinocal/internal/log"
	"rinocal/internal/model"
	"rinocal/internal/registry"
)

// PatientDBPath is the panel endpoint serving the patient registry.
const PatientDBPath = "/api/patient-db"

// seedRecord accepts both the seed shape ({"date"}) and the registry shape
// ({"surgeryDate"}) so a panel can serve either.
type seedRecord struct {
	Name        string `json:"name" yaml:"name"`
	Date        string `json:"date" yaml:"date"`
	SurgeryDate string `json:"surgeryDate" yaml:"surgeryDate"`
	Hospital    any    `json:"hospital" yaml:"hospital"`
}

func (r seedRecord) seed() (model.Seed, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return model.Seed{}, errors.New("missing name")
	}
	raw := r.Date
	if raw == "" {
		raw = r.SurgeryDate
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		return model.Seed{}, err
	}
	hospital, _ := r.Hospital.(string)
	return model.Seed{Name: name, SurgeryDate: d, Hospital: hospital}, nil
}

func toSeeds(origin string, records []seedRecord) []model.Seed {
	out := make([]model.Seed, 0, len(records))
	for i, r := range records {
		s, err := r.seed()
		if err != nil {
			appLog.Debug("seed skipped", "origin", origin, "index", i, "reason", err.Error())
			continue
		}
		out = append(out, s)
	}
	return out
}

// Panel fetches seeds from another instance's patient-db endpoint.
type Panel struct {
	client *resty.Client
}

// NewPanel returns a Panel client for baseURL.
func NewPanel(baseURL string) *Panel {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30*time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Accept", "application/json")
	return &Panel{client: client}
}

// Patients implements registry.PatientSource. The payload is either a bare
// array or an object with a "patients" array.
func (p *Panel) Patients(ctx context.Context) ([]model.Seed, error) {
	resp, err := p.client.R().SetContext(ctx).Get(PatientDBPath)
	if err != nil {
		return nil, fmt.Errorf("panel: request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("panel: unexpected status %s", resp.Status())
	}

	body := bytes.TrimSpace(resp.Body())
	var records []seedRecord
	if len(body) > 0 && body[0] == '[' {
		err = json.Unmarshal(body, &records)
	} else {
		var wrapped struct {
			Patients []seedRecord `json:"patients"`
		}
		err = json.Unmarshal(body, &wrapped)
		records = wrapped.Patients
	}
	if err != nil {
		return nil, fmt.Errorf("panel: decode: %w", err)
	}

	seeds := toSeeds("panel", records)
	appLog.Info("panel patients fetched", "records", len(records), "seeds", len(seeds))
	return seeds, nil
}

// SeedFile reads seeds from a local YAML or JSON file.
type SeedFile struct {
	Path string
}

// Patients implements registry.PatientSource.
func (f SeedFile) Patients(_ context.Context) ([]model.Seed, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("seed file: %w", err)
	}

	var records []seedRecord
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".json":
		err = json.Unmarshal(data, &records)
	default:
		err = yaml.Unmarshal(data, &records)
	}
	if err != nil {
		return nil, fmt.Errorf("seed file %s: %w", f.Path, err)
	}
	return toSeeds(f.Path, records), nil
}

// RegistryPatients serves the seeds of a locally built registry, for
// deployments where this instance is its own panel.
type RegistryPatients struct {
	Service *registry.Service
}

// Patients implements registry.PatientSource.
func (r RegistryPatients) Patients(ctx context.Context) ([]model.Seed, error) {
	res, _, err := r.Service.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Seed, 0, len(res.Patients))
	for _, p := range res.Patients {
		out = append(out, model.Seed{Name: p.Name, SurgeryDate: p.SurgeryDate, Hospital: p.Hospital})
	}
	return out, nil
}

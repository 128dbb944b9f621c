// Package status reports the deployed version of this instance and compares
// it with peer deployments (the panel and other calendar front ends).
package status

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	appLog "rinocal/internal/log"
)

// Project is reported by /api/version.
const Project = "rinocal"

// Version is overridden at build time with -ldflags "-X".
var Version = "0.1.0-dev"

// ProbeTimeout bounds each peer request.
const ProbeTimeout = 3 * time.Second

const localeLayout = "02.01.2006 15:04:05"

var (
	startedAt = time.Now().UTC()
	buildOnce sync.Once
	buildTime time.Time
)

// Info is the payload of /api/version.
type Info struct {
	Project            string    `json:"project"`
	Version            string    `json:"version"`
	LastModified       time.Time `json:"lastModified"`
	LastModifiedLocale string    `json:"lastModifiedLocale"`
}

// Current returns this instance's version info. LastModified is the VCS
// commit time embedded in the binary, or the process start time.
func Current(loc *time.Location) Info {
	if loc == nil {
		loc = time.Local
	}
	t := lastModified()
	return Info{
		Project:            Project,
		Version:            Version,
		LastModified:       t,
		LastModifiedLocale: t.In(loc).Format(localeLayout),
	}
}

func lastModified() time.Time {
	buildOnce.Do(func() {
		buildTime = startedAt
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range info.Settings {
			if s.Key != "vcs.time" {
				continue
			}
			if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
				buildTime = t.UTC()
			}
		}
	})
	return buildTime
}

// Peer is another deployment exposing /api/version.
type Peer struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// PeerStatus is the probe result for one peer.
type PeerStatus struct {
	Name               string `json:"name"`
	URL                string `json:"url"`
	Exists             bool   `json:"exists"`
	Version            string `json:"version,omitempty"`
	LastModified       string `json:"lastModified,omitempty"`
	LastModifiedLocale string `json:"lastModifiedLocale,omitempty"`
	// DelaySeconds is how far the peer lags behind this instance; nil when
	// the peer could not be reached.
	DelaySeconds *int64 `json:"delaySeconds"`
	Error        string `json:"error,omitempty"`
}

// Report is the payload of /api/system-status.
type Report struct {
	Statuses           []PeerStatus `json:"statuses"`
	SourceLastModified time.Time    `json:"sourceLastModified"`
}

// Prober checks peers one after another.
type Prober struct {
	client *resty.Client
	peers  []Peer
}

// NewProber returns a Prober for peers.
func NewProber(peers []Peer) *Prober {
	client := resty.New().
		SetTimeout(ProbeTimeout).
		SetHeader("Accept", "application/json").
		SetHeader("Cache-Control", "no-store")
	return &Prober{client: client, peers: peers}
}

// Check probes every peer and measures its lag against self.
func (p *Prober) Check(ctx context.Context, self Info) Report {
	out := Report{Statuses: make([]PeerStatus, 0, len(p.peers)), SourceLastModified: self.LastModified}
	for _, peer := range p.peers {
		out.Statuses = append(out.Statuses, p.probe(ctx, peer, self.LastModified))
	}
	return out
}

func (p *Prober) probe(ctx context.Context, peer Peer, source time.Time) PeerStatus {
	st := PeerStatus{Name: peer.Name, URL: peer.URL}

	var info Info
	resp, err := p.client.R().SetContext(ctx).SetResult(&info).Get(versionURL(peer.URL))
	switch {
	case err != nil:
		st.Error = err.Error()
	case resp.IsError():
		st.Error = fmt.Sprintf("HTTP %d", resp.StatusCode())
	case info.LastModified.IsZero():
		st.Error = "missing lastModified"
	}
	if st.Error != "" {
		appLog.Warn("status: peer probe failed", "peer", peer.Name, "error", st.Error)
		return st
	}

	delay := int64(source.Sub(info.LastModified) / time.Second)
	if delay < 0 {
		delay = 0
	}
	st.Exists = true
	st.Version = info.Version
	st.LastModified = info.LastModified.UTC().Format(time.RFC3339)
	st.LastModifiedLocale = info.LastModifiedLocale
	st.DelaySeconds = &delay
	return st
}

func versionURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/api/version") {
		return base
	}
	return base + "/api/version"
}

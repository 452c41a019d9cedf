package sources

import (
	"context"
	"errors"
	"net/http"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fusion"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/httputil"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/recovery"
)

// Remote is a tracker running out of process that serves its latest
// estimate as JSON at URL: 200 with {shoulder_width, height, confidence},
// or 204 when it has no lock on the subject.
type Remote struct {
	URL    string
	client httputil.HTTPClient
}

// NewRemote creates a Remote. A nil client uses http.DefaultClient; the
// per-query deadline comes from the orchestrator's source timeout.
func NewRemote(url string, client httputil.HTTPClient) *Remote {
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{URL: url, client: client}
}

type remoteEstimate struct {
	ShoulderWidth float64 `json:"shoulder_width"`
	Height        float64 `json:"height"`
	Confidence    float64 `json:"confidence"`
}

// Query returns the tracker as a fusion.Query. Authorization failures are
// critical permission errors; everything else is recoverable.
func (r *Remote) Query() fusion.Query {
	return func(ctx context.Context) (*measurement.RawEstimate, error) {
		var body remoteEstimate
		found, err := httputil.GetJSON(ctx, r.client, r.URL, &body)
		if err != nil {
			return nil, classify(err)
		}
		if !found {
			return nil, nil
		}
		return &measurement.RawEstimate{
			ShoulderWidth: body.ShoulderWidth,
			Height:        body.Height,
			Confidence:    body.Confidence,
		}, nil
	}
}

func classify(err error) error {
	var se *httputil.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return recovery.Critical(recovery.KindPermission, "remote tracker", err)
		case http.StatusInsufficientStorage:
			return recovery.Critical(recovery.KindResource, "remote tracker", err)
		}
	}
	return recovery.Recoverable("remote tracker", err)
}

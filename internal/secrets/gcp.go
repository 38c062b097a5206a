package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// GCPResolver reads secret versions from Google Secret Manager. Short names
// are expanded to projects/<project>/secrets/<name>/versions/latest.
type GCPResolver struct {
	client  *secretmanager.Client
	project string
}

func NewGCPResolver(ctx context.Context, project string, opts ...option.ClientOption) (*GCPResolver, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating secret manager client: %v", err)
	}
	return &GCPResolver{client: client, project: project}, nil
}

func (r *GCPResolver) versionName(name string) string {
	if strings.HasPrefix(name, "projects/") {
		return name
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", r.project, name)
}

func (r *GCPResolver) Lookup(ctx context.Context, name string) (string, error) {
	full := r.versionName(name)
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: full})
	if err != nil {
		return "", fmt.Errorf("error accessing secret %s: %w", full, err)
	}
	log.Debug().Str("op", "secrets/gcp").Msgf("resolved secret %s", full)
	return string(resp.GetPayload().GetData()), nil
}

func (r *GCPResolver) Close() error {
	return r.client.Close()
}

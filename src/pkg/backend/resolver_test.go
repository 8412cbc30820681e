package backend

import (
	"errors"
	"reflect"
	"testing"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"
)

func stackWithBackend(meta models.BackendMeta) *models.Stack {
	return models.NewStack("s", "stacks/s", models.StackMeta{Backend: meta})
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		meta    models.BackendMeta
		want    *Config
		wantErr error
	}{
		{
			name: "s3 backend",
			meta: models.BackendMeta{
				Kind:   "s3",
				Bucket: "state-bucket",
				Key:    "env/s.tfstate",
				Region: "eu-west-2",
			},
			want: &Config{
				Kind:   models.BackendKindS3,
				Bucket: "state-bucket",
				Key:    "env/s.tfstate",
				Region: "eu-west-2",
			},
		},
		{
			name: "s3 backend with lock table",
			meta: models.BackendMeta{
				Kind:      "s3",
				Bucket:    "state-bucket",
				Key:       "env/s.tfstate",
				Region:    "eu-west-2",
				LockTable: "state-locks",
			},
			want: &Config{
				Kind:      models.BackendKindS3,
				Bucket:    "state-bucket",
				Key:       "env/s.tfstate",
				Region:    "eu-west-2",
				LockTable: "state-locks",
			},
		},
		{
			name:    "azurerm backend is planned only",
			meta:    models.BackendMeta{Kind: "azurerm"},
			wantErr: models.ErrUnsupportedBackend,
		},
		{
			name:    "unknown backend kind",
			meta:    models.BackendMeta{Kind: "gcs"},
			wantErr: models.ErrConventionViolation,
		},
		{
			name:    "s3 backend missing bucket",
			meta:    models.BackendMeta{Kind: "s3", Key: "k", Region: "eu-west-2"},
			wantErr: models.ErrConventionViolation,
		},
		{
			name:    "s3 backend missing key",
			meta:    models.BackendMeta{Kind: "s3", Bucket: "b", Region: "eu-west-2"},
			wantErr: models.ErrConventionViolation,
		},
	}

	resolver := NewResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(stackWithBackend(tt.meta))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestConfigInitArgs(t *testing.T) {
	cfg := &Config{
		Kind:   models.BackendKindS3,
		Bucket: "state-bucket",
		Key:    "env/s.tfstate",
		Region: "eu-west-2",
	}
	want := []string{
		"-backend-config=bucket=state-bucket",
		"-backend-config=key=env/s.tfstate",
		"-backend-config=region=eu-west-2",
	}
	if got := cfg.InitArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("InitArgs() = %v, want %v", got, want)
	}

	cfg.LockTable = "state-locks"
	want = append(want, "-backend-config=dynamodb_table=state-locks")
	if got := cfg.InitArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("InitArgs() with lock table = %v, want %v", got, want)
	}
}

func TestConfigStatePath(t *testing.T) {
	cfg := &Config{Bucket: "state-bucket", Key: "env/s.tfstate"}
	if got := cfg.StatePath(); got != "state-bucket/env/s.tfstate" {
		t.Errorf("StatePath() = %s, want state-bucket/env/s.tfstate", got)
	}
}

package backend

import (
	"fmt"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"
	log "github.com/sirupsen/logrus"
)

var logger *log.Entry = log.New().WithFields(log.Fields{
	"package": "backend",
})

// Config is the resolved state backend configuration for one stack. It is
// only ever handed to the Terraform toolchain; the state store itself is
// never accessed directly.
type Config struct {
	Kind      models.BackendKind
	Bucket    string
	Key       string
	Region    string
	LockTable string
}

// InitArgs returns the -backend-config arguments for terraform init.
func (c *Config) InitArgs() []string {
	args := []string{
		fmt.Sprintf("-backend-config=bucket=%s", c.Bucket),
		fmt.Sprintf("-backend-config=key=%s", c.Key),
		fmt.Sprintf("-backend-config=region=%s", c.Region),
	}
	if c.LockTable != "" {
		args = append(args, fmt.Sprintf("-backend-config=dynamodb_table=%s", c.LockTable))
	}
	return args
}

// StatePath identifies the state object this backend points at. Two stacks
// with the same StatePath share a state lock and must never plan or deploy
// concurrently.
func (c *Config) StatePath() string {
	return c.Bucket + "/" + c.Key
}

// BackendResolver determines the state backend configuration for a stack.
type BackendResolver interface {
	Resolve(stack *models.Stack) (*Config, error)
}

type Resolver struct{}

// Ensure Resolver implements BackendResolver
var _ BackendResolver = (*Resolver)(nil)

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve maps the stack's declared backend onto a toolchain configuration.
// Supported kinds: s3. An azurerm declaration is recognised but not
// implemented yet and fails with models.ErrUnsupportedBackend (permanent).
func (r *Resolver) Resolve(stack *models.Stack) (*Config, error) {
	meta := stack.Meta.Backend
	logger.WithField("stack", stack.Name).WithField("kind", meta.Kind).Debug("Resolving backend...")

	switch models.BackendKind(meta.Kind) {
	case models.BackendKindS3:
		return r.resolveS3(stack)
	case models.BackendKindAzure:
		return nil, fmt.Errorf("%w: azurerm backend for stack '%s' is planned but not implemented", models.ErrUnsupportedBackend, stack.Name)
	default:
		return nil, fmt.Errorf("%w: stack '%s' declares unknown backend kind '%s'", models.ErrConventionViolation, stack.Name, meta.Kind)
	}
}

func (r *Resolver) resolveS3(stack *models.Stack) (*Config, error) {
	meta := stack.Meta.Backend
	if meta.Bucket == "" || meta.Key == "" || meta.Region == "" {
		return nil, fmt.Errorf("%w: stack '%s' s3 backend requires bucket, key and region", models.ErrConventionViolation, stack.Name)
	}
	return &Config{
		Kind:      models.BackendKindS3,
		Bucket:    meta.Bucket,
		Key:       meta.Key,
		Region:    meta.Region,
		LockTable: meta.LockTable,
	}, nil
}

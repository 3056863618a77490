package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedUtils "github.com/davicafu/productregistry/internal/shared/infra/utils"
)

// CommandConfig controla el reintento de comandos ante conflictos de versión.
type CommandConfig struct {
	Retries int
	Backoff sharedUtils.BackoffPolicy
}

var DefaultCommandConfig = CommandConfig{
	Retries: 3,
	Backoff: sharedUtils.BackoffPolicy{Base: 20 * time.Millisecond, Max: 200 * time.Millisecond, Multiplier: 2},
}

// ProductService define los casos de uso de escritura de Product.
type ProductService struct {
	repo productDomain.ProductRepository
	cfg  CommandConfig
	log  *zap.Logger
}

func NewProductService(repo productDomain.ProductRepository, cfg CommandConfig, log *zap.Logger) *ProductService {
	return &ProductService{repo: repo, cfg: cfg, log: log}
}

// Register da de alta un producto. El SKU debe ser válido y no estar en uso.
func (s *ProductService) Register(ctx context.Context, name, description, sku string) (*productDomain.Product, error) {
	skuID, err := productDomain.NewSkuID(sku)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, "register", uuid.Nil, func() (*productDomain.Product, error) {
		exists, err := s.repo.ExistsBySku(ctx, skuID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", productDomain.ErrDuplicateSku, skuID)
		}

		product, evt, err := productDomain.NewProduct(name, description, skuID)
		if err != nil {
			return nil, err
		}
		if err := s.repo.Save(ctx, product, 0, evt); err != nil {
			return nil, err
		}
		return product, nil
	})
}

func (s *ProductService) Rename(ctx context.Context, id uuid.UUID, newName string) (*productDomain.Product, error) {
	return s.mutate(ctx, "rename", id, func(p *productDomain.Product) (productDomain.Envelope, error) {
		return p.Rename(newName)
	})
}

func (s *ProductService) ChangeDescription(ctx context.Context, id uuid.UUID, newDescription string) (*productDomain.Product, error) {
	return s.mutate(ctx, "change_description", id, func(p *productDomain.Product) (productDomain.Envelope, error) {
		return p.ChangeDescription(newDescription)
	})
}

func (s *ProductService) Retire(ctx context.Context, id uuid.UUID) (*productDomain.Product, error) {
	return s.mutate(ctx, "retire", id, func(p *productDomain.Product) (productDomain.Envelope, error) {
		return p.Retire()
	})
}

// mutate carga el agregado, aplica el comando y lo guarda con la versión leída.
func (s *ProductService) mutate(
	ctx context.Context,
	op string,
	id uuid.UUID,
	command func(*productDomain.Product) (productDomain.Envelope, error),
) (*productDomain.Product, error) {
	return s.run(ctx, op, id, func() (*productDomain.Product, error) {
		product, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}

		expected := product.Version
		evt, err := command(product)
		if err != nil {
			return nil, err
		}
		if err := s.repo.Save(ctx, product, expected, evt); err != nil {
			return nil, err
		}
		return product, nil
	})
}

// run repite el comando completo mientras el fallo sea un conflicto de concurrencia.
func (s *ProductService) run(ctx context.Context, op string, id uuid.UUID, fn func() (*productDomain.Product, error)) (*productDomain.Product, error) {
	product, err := sharedUtils.Retry(ctx, s.cfg.Retries, s.cfg.Backoff, isConcurrencyConflict, fn)
	if err != nil {
		fields := []zap.Field{zap.String("op", op), zap.Error(err)}
		if id != uuid.Nil {
			fields = append(fields, zap.String("aggregate_id", id.String()))
		}
		if isClientError(err) {
			s.log.Info("Command rejected", fields...)
		} else {
			s.log.Error("Command failed", fields...)
		}
		return nil, err
	}

	s.log.Info("✅ Command applied",
		zap.String("op", op),
		zap.String("aggregate_id", product.ID.String()),
		zap.Int64("version", product.Version),
	)
	return product, nil
}

func isConcurrencyConflict(err error) bool {
	return errors.Is(err, sharedDomain.ErrConcurrencyConflict)
}

func isClientError(err error) bool {
	return errors.Is(err, productDomain.ErrDuplicateSku) ||
		errors.Is(err, productDomain.ErrProductNotFound) ||
		errors.Is(err, productDomain.ErrInvalidState) ||
		errors.Is(err, productDomain.ErrInvalidSku) ||
		errors.Is(err, productDomain.ErrInvalidProduct)
}

package main

import (
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/xenking/boutique-orders/internal/domain/auth"
	"github.com/xenking/boutique-orders/internal/domain/discount"
	"github.com/xenking/boutique-orders/internal/domain/product"
)

type catalogFile struct {
	Products  []productYAML  `yaml:"products"`
	Discounts []discountYAML `yaml:"discounts"`
	APIKeys   []apiKeyYAML   `yaml:"apiKeys"`
}

type productYAML struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	Price        string        `yaml:"price"`
	ReducedPrice string        `yaml:"reducedPrice"`
	Quantity     int           `yaml:"quantity"`
	Images       []string      `yaml:"images"`
	Variants     []variantYAML `yaml:"variants"`
}

type variantYAML struct {
	ID       string `yaml:"id"`
	Size     string `yaml:"size"`
	Color    string `yaml:"color"`
	Quantity int    `yaml:"quantity"`
	Price    string `yaml:"price"`
}

type discountYAML struct {
	Code      string     `yaml:"code"`
	Type      string     `yaml:"type"`
	Value     string     `yaml:"value"`
	MinAmount string     `yaml:"minAmount"`
	MaxUses   *int       `yaml:"maxUses"`
	Inactive  bool       `yaml:"inactive"`
	StartsAt  *time.Time `yaml:"startsAt"`
	ExpiresAt *time.Time `yaml:"expiresAt"`
}

type apiKeyYAML struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Scopes []string `yaml:"scopes"`
	// KeyEnv names the environment variable holding the raw key.
	KeyEnv string `yaml:"keyEnv"`
}

// catalog is the seed file converted to domain values.
type catalog struct {
	Products  []product.Product
	Variants  []product.Variant
	Discounts []discount.Discount
	APIKeys   []seedKey
}

type seedKey struct {
	Info   auth.APIKeyInfo
	KeyEnv string
}

func loadCatalog(path string) (*catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog file")
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse catalog YAML")
	}
	return f.toDomain(discountID)
}

// discountID derives a stable id so reseeding keeps order references.
func discountID(code string) string {
	return "disc-" + discount.NormalizeCode(code)
}

func (f *catalogFile) toDomain(newDiscountID func(code string) string) (*catalog, error) {
	var c catalog
	for _, p := range f.Products {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "product %s: price", p.ID)
		}
		reduced, err := optMoney(p.ReducedPrice)
		if err != nil {
			return nil, errors.Wrapf(err, "product %s: reduced price", p.ID)
		}
		c.Products = append(c.Products, product.Product{
			ID:           p.ID,
			Name:         p.Name,
			Price:        price.Round(2),
			ReducedPrice: reduced,
			Quantity:     p.Quantity,
			Images:       p.Images,
		})

		for _, v := range p.Variants {
			vPrice, err := optMoney(v.Price)
			if err != nil {
				return nil, errors.Wrapf(err, "variant %s: price", v.ID)
			}
			variant := product.Variant{
				ID:        v.ID,
				ProductID: p.ID,
				Size:      v.Size,
				Color:     v.Color,
				Quantity:  v.Quantity,
				Price:     vPrice,
			}
			if err := variant.Normalize(); err != nil {
				return nil, errors.Wrapf(err, "variant %s", v.ID)
			}
			c.Variants = append(c.Variants, variant)
		}
	}

	for _, d := range f.Discounts {
		t := discount.Type(d.Type)
		if !t.Valid() {
			return nil, errors.Errorf("discount %s: unknown type %q", d.Code, d.Type)
		}
		value, err := decimal.NewFromString(d.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "discount %s: value", d.Code)
		}
		minAmount, err := optMoney(d.MinAmount)
		if err != nil {
			return nil, errors.Wrapf(err, "discount %s: minimum", d.Code)
		}
		c.Discounts = append(c.Discounts, discount.Discount{
			ID:        newDiscountID(d.Code),
			Code:      discount.NormalizeCode(d.Code),
			Type:      t,
			Value:     value.Round(2),
			MinAmount: minAmount,
			MaxUses:   d.MaxUses,
			IsActive:  !d.Inactive,
			StartsAt:  d.StartsAt,
			ExpiresAt: d.ExpiresAt,
		})
	}

	for _, k := range f.APIKeys {
		if k.KeyEnv == "" {
			return nil, errors.Errorf("api key %s: keyEnv is required", k.ID)
		}
		c.APIKeys = append(c.APIKeys, seedKey{
			Info:   auth.APIKeyInfo{ID: k.ID, Name: k.Name, Scopes: k.Scopes},
			KeyEnv: k.KeyEnv,
		})
	}
	return &c, nil
}

func optMoney(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v.Round(2)), nil
}

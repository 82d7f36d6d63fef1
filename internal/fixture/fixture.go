// Package fixture fills a store with sample items and people.
package fixture

import (
	"context"
	"fmt"

	faker "github.com/go-faker/faker/v4"
	"go.uber.org/zap"

	"github.com/zoravur/livesql/internal/docstore"
	"github.com/zoravur/livesql/pkg/prng"
)

type Item struct {
	Name     string `faker:"word"`
	Category string `faker:"oneof: office, home, sale, garden"`
	Price    int    `faker:"boundary_start=1, boundary_end=200"`
	InStock  bool
}

type Person struct {
	Name  string `faker:"name"`
	Email string `faker:"email"`
	Age   int    `faker:"boundary_start=18, boundary_end=90"`
}

type Options struct {
	Items  int
	People int
	// Seed fixes the document keys. Field values are random.
	Seed   int64
	Logger *zap.Logger
}

// Seed writes opts.Items documents to items and opts.People to people,
// under root.
func Seed(ctx context.Context, s docstore.Store, root string, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	faker.SetCryptoSource(prng.New(opts.Seed))

	items := join(root, "items")
	for i := 0; i < opts.Items; i++ {
		var it Item
		if err := faker.FakeData(&it); err != nil {
			return fmt.Errorf("fixture: item: %w", err)
		}
		if err := s.Put(ctx, items, faker.UUIDHyphenated(), ItemDoc(it)); err != nil {
			return err
		}
	}

	people := join(root, "people")
	for i := 0; i < opts.People; i++ {
		var p Person
		if err := faker.FakeData(&p); err != nil {
			return fmt.Errorf("fixture: person: %w", err)
		}
		if err := s.Put(ctx, people, faker.UUIDHyphenated(), PersonDoc(p, faker.GetRealAddress())); err != nil {
			return err
		}
	}
	log.Info("seeded fixtures",
		zap.Int("items", opts.Items), zap.Int("people", opts.People), zap.Int64("seed", opts.Seed))
	return nil
}

func ItemDoc(it Item) map[string]any {
	return map[string]any{
		"name":     it.Name,
		"category": it.Category,
		"price":    it.Price,
		"in_stock": it.InStock,
	}
}

func PersonDoc(p Person, a faker.RealAddress) map[string]any {
	return map[string]any{
		"name":  p.Name,
		"email": p.Email,
		"age":   p.Age,
		"address": map[string]any{
			"city":        a.City,
			"state":       a.State,
			"postal_code": a.PostalCode,
		},
	}
}

func join(root, coll string) string {
	if root == "" {
		return coll
	}
	return root + "/" + coll
}

package bank

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/clearslip/clearslip/internal/model"
)

// LoadCatalog reads a published template catalog from a YAML file. The
// catalog is validated by compiling it into a registry before it is returned,
// so a malformed file is rejected at load time rather than at decision time.
func LoadCatalog(path string) (model.TemplateCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.TemplateCatalog{}, eris.Wrapf(err, "bank: read catalog %s", path)
	}

	var catalog model.TemplateCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return model.TemplateCatalog{}, eris.Wrapf(err, "bank: parse catalog %s", path)
	}
	if len(catalog.Templates) == 0 {
		return model.TemplateCatalog{}, eris.Errorf("bank: catalog %s has no templates", path)
	}
	if _, err := NewRegistry(catalog); err != nil {
		return model.TemplateCatalog{}, err
	}
	return catalog, nil
}

// WriteCatalog publishes a catalog to a YAML file with its version bumped and
// PublishedAt stamped. The previous file is replaced wholesale; published
// catalogs are never edited in place.
func WriteCatalog(path string, catalog model.TemplateCatalog) error {
	if _, err := NewRegistry(catalog); err != nil {
		return err
	}
	catalog.Version++
	catalog.PublishedAt = time.Now().UTC()

	data, err := yaml.Marshal(catalog)
	if err != nil {
		return eris.Wrap(err, "bank: marshal catalog")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "bank: write catalog %s", path)
	}
	return nil
}

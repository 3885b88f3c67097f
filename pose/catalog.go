package pose

import (
	"golang.org/x/exp/slices"
)

// Catalog lists the images expected for each dataset and scene, in the order they were
// discovered. The submission writer emits one row per catalog entry.
type Catalog struct {
	datasets []string
	scenes   map[string][]string
	images   map[string]map[string][]string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		scenes: map[string][]string{},
		images: map[string]map[string][]string{},
	}
}

// Add appends image to the given dataset and scene. Duplicate images are ignored.
func (c *Catalog) Add(dataset, scene, image string) {
	c.AddScene(dataset, scene)
	if slices.Contains(c.images[dataset][scene], image) {
		return
	}
	c.images[dataset][scene] = append(c.images[dataset][scene], image)
}

// AddScene registers a scene that may have no images yet.
func (c *Catalog) AddScene(dataset, scene string) {
	if _, ok := c.images[dataset]; !ok {
		c.datasets = append(c.datasets, dataset)
		c.images[dataset] = map[string][]string{}
	}
	if _, ok := c.images[dataset][scene]; !ok {
		c.scenes[dataset] = append(c.scenes[dataset], scene)
		c.images[dataset][scene] = nil
	}
}

// Datasets returns dataset names in insertion order.
func (c *Catalog) Datasets() []string {
	return slices.Clone(c.datasets)
}

// Scenes returns the scenes of dataset in insertion order.
func (c *Catalog) Scenes(dataset string) []string {
	return slices.Clone(c.scenes[dataset])
}

// Images returns the images of a scene in insertion order.
func (c *Catalog) Images(dataset, scene string) []string {
	return slices.Clone(c.images[dataset][scene])
}

// Len returns the total number of images.
func (c *Catalog) Len() int {
	var n int
	for _, scenes := range c.images {
		for _, images := range scenes {
			n += len(images)
		}
	}
	return n
}

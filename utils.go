package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"

	"mbtiler/feature"
)

func saveToFiles(tile Tile, task *Task) error {
	dir := filepath.Join(task.File, task.Name, fmt.Sprintf(`%d`, tile.T.Z), fmt.Sprintf(`%d`, tile.T.X))
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	fileName := filepath.Join(dir, fmt.Sprintf(`%d.%s`, tile.T.Y, task.TileMap.Format))
	return os.WriteFile(fileName, tile.C, 0o644)
}

func loadFeatures(path string) []feature.Feature {
	features, err := feature.Load(path)
	if err != nil {
		log.Fatalf("load %s error, details: %v", path, err)
	}
	return features
}

func loadCollection(path string) orb.Collection {
	return feature.Collection(loadFeatures(path))
}

// seed-districts loads district reference data. Without --file it seeds the
// built-in list; with --file it reads a JSON array of {"id","name_en","name_ru"}.
// Existing districts are renamed in place.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/listings_backend/config"
	"github.com/mmdatafocus/listings_backend/models"
	"github.com/mmdatafocus/listings_backend/utils"
)

var defaultDistricts = []models.NewDistrict{
	{ID: "ARB", NameEn: "Arbat", NameRu: "Арбат"},
	{ID: "TVR", NameEn: "Tverskoy", NameRu: "Тверской"},
	{ID: "KHM", NameEn: "Khamovniki", NameRu: "Хамовники"},
	{ID: "PRS", NameEn: "Presnensky", NameRu: "Пресненский"},
	{ID: "ZMS", NameEn: "Zamoskvorechye", NameRu: "Замоскворечье"},
	{ID: "BSM", NameEn: "Basmanny", NameRu: "Басманный"},
}

func main() {
	file := flag.String("file", "", "Optional: JSON file with districts")
	migrate := flag.Bool("migrate", true, "Run AutoMigrate before seeding")
	flag.Parse()

	districts := defaultDistricts
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", *file, err)
			os.Exit(1)
		}
		districts = nil
		if err := json.Unmarshal(data, &districts); err != nil {
			fmt.Fprintf(os.Stderr, "parse %s: %v\n", *file, err)
			os.Exit(1)
		}
	}
	for _, d := range districts {
		if err := utils.Validate(d); err != nil {
			fmt.Fprintf(os.Stderr, "invalid district %q: %v\n", d.ID, err)
			os.Exit(1)
		}
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	if *migrate {
		if err := models.MigrateTable(db); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	store := models.NewDistrictStore(db)
	for _, d := range districts {
		if _, err := store.Save(ctx, d); err != nil {
			fmt.Fprintf(os.Stderr, "save %s: %v\n", d.ID, err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded %d districts\n", len(districts))
}

package test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/brandpulse/internal/profile"
	"github.com/hrygo/brandpulse/store"
	"github.com/hrygo/brandpulse/store/db"
)

// AnalyticsSchema is a trimmed copy of the production analytics schema.
const AnalyticsSchema = `
CREATE TABLE product_catalog (
	product_id INTEGER PRIMARY KEY,
	product_name TEXT NOT NULL,
	brand TEXT,
	subcategory TEXT,
	price REAL,
	rating REAL,
	terjual INTEGER
);

CREATE TABLE customer_demographics (
	customer_id INTEGER PRIMARY KEY,
	age_group TEXT,
	gender TEXT,
	location TEXT
);

CREATE TABLE reviewed_product (
	customer_review_id INTEGER PRIMARY KEY,
	review_date DATE,
	review_text TEXT,
	sentiment_score REAL,
	rating INTEGER,
	customer_id INTEGER REFERENCES customer_demographics(customer_id),
	product_id INTEGER REFERENCES product_catalog(product_id),
	brand TEXT
);

CREATE TABLE campaign (
	campaign_id INTEGER PRIMARY KEY,
	name_campaign TEXT NOT NULL,
	budget REAL,
	reach INTEGER,
	platform TEXT,
	product_id INTEGER
);

CREATE TABLE sentiment_campaign (
	id_campaign INTEGER PRIMARY KEY REFERENCES campaign(campaign_id),
	review_campaign TEXT,
	sentiment_score REAL
);

CREATE TABLE social_media_external_trends (
	social_media_post_id INTEGER PRIMARY KEY,
	platform TEXT,
	post_date DATE,
	post_text TEXT,
	engagement_count INTEGER,
	reach_count INTEGER,
	brand TEXT
);

CREATE TABLE sentiment_social_media (
	id_post INTEGER PRIMARY KEY REFERENCES social_media_external_trends(social_media_post_id),
	comment TEXT,
	sentiment_score REAL,
	total_likes INTEGER
);
`

// AnalyticsSeed inserts a small deterministic data set.
const AnalyticsSeed = `
INSERT INTO product_catalog VALUES
	(1, 'Ultraboost 22', 'Adidas', 'Running', 2500000, 4.7, 120),
	(2, 'Samba OG', 'Adidas', 'Lifestyle', 1700000, 4.8, 300),
	(3, 'Air Max 90', 'Nike', 'Lifestyle', 2100000, 4.5, 210),
	(4, 'Gazelle Indoor', 'Adidas', 'Lifestyle', 1800000, 4.6, 90),
	(5, 'Suede Classic', 'Puma', 'Lifestyle', 1100000, 4.2, 75);

INSERT INTO customer_demographics VALUES
	(1, '18-24', 'F', 'Jakarta'),
	(2, '25-34', 'M', 'Bandung');

INSERT INTO reviewed_product VALUES
	(1, '2024-11-02', 'nyaman dipakai lari', 0.9, 5, 1, 1, 'Adidas'),
	(2, '2024-11-10', 'ukuran pas', 0.7, 4, 2, 2, 'Adidas'),
	(3, '2024-12-01', 'sol cepat aus', -0.4, 2, 1, 3, 'Nike');

INSERT INTO campaign VALUES
	(1, 'Run Jakarta', 50000000, 120000, 'Instagram', 1),
	(2, 'Street Style', 30000000, 80000, 'TikTok', 3);

INSERT INTO sentiment_campaign VALUES
	(1, 'seru sekali', 0.8),
	(2, 'biasa saja', 0.1);

INSERT INTO social_media_external_trends VALUES
	(1, 'Instagram', '2024-12-02', 'new drop', 1500, 20000, 'Adidas'),
	(2, 'TikTok', '2024-12-09', 'unboxing', 3000, 45000, 'Adidas'),
	(3, 'Instagram', '2024-12-16', 'sale', 900, 15000, 'Nike');

INSERT INTO sentiment_social_media VALUES
	(1, 'keren banget', 0.9, 120),
	(2, 'mahal', -0.2, 40),
	(3, 'mantap', 0.6, 75);
`

// NewSQLiteStore creates a seeded analytics database in a temporary directory.
func NewSQLiteStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "analytics.db")
	Seed(t, dsn)

	p := &profile.Profile{Mode: "dev", Driver: "sqlite", DSN: dsn}
	driver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}
	s := store.New(driver, p)
	t.Cleanup(func() { s.Close() })
	return s
}

// Seed writes the analytics schema and seed rows to the sqlite file at dsn.
func Seed(t *testing.T, dsn string) {
	t.Helper()
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	for _, stmt := range []string{AnalyticsSchema, AnalyticsSeed} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("failed to seed sqlite: %v", err)
		}
	}
}

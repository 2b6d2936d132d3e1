// Ragdocd-snapshot is a one-off sidecar tool: it scrolls a vector
// collection in pages and dumps each page as a JSON blob to S3, for
// cold-storage backup outside the retrieval hot path. The -dry-run
// flag previews the pages that would be written without uploading.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocd/internal/objectstore"
	"github.com/fyrsmithlabs/ragdocd/internal/vectorstore"
)

type page struct {
	Collection string            `json:"collection"`
	Offset     int               `json:"offset"`
	TakenAt    string            `json:"taken_at"`
	Points     []vectorstore.Hit `json:"points"`
}

func main() {
	var (
		backendHost = flag.String("host", "localhost", "Qdrant gRPC host")
		backendPort = flag.Int("port", 6334, "Qdrant gRPC port")
		apiKey      = flag.String("api-key", "", "Qdrant API key")
		useTLS      = flag.Bool("tls", false, "Use TLS for the Qdrant connection")
		collection  = flag.String("collection", "ragdocd_documents", "Vector collection to snapshot")
		pageSize    = flag.Int("page-size", 500, "Points per snapshot page")
		bucket      = flag.String("bucket", "", "S3 bucket to write snapshot pages to")
		region      = flag.String("region", "", "S3 region")
		prefix      = flag.String("prefix", "", "Key prefix for snapshot pages (default: snapshots/<collection>/<timestamp>/)")
		dryRun      = flag.Bool("dry-run", false, "List pages that would be written without uploading")
	)
	flag.Parse()

	if *bucket == "" && !*dryRun {
		log.Fatalf("-bucket is required unless -dry-run is set")
	}

	ctx := context.Background()
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	vectors, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:   *backendHost,
		Port:   *backendPort,
		APIKey: *apiKey,
		UseTLS: *useTLS,
	})
	if err != nil {
		log.Fatalf("creating vector store: %v", err)
	}
	defer vectors.Close()

	var blobs *objectstore.S3BlobStore
	if !*dryRun {
		blobs, err = objectstore.NewS3BlobStore(ctx, objectstore.S3Config{Bucket: *bucket, Region: *region}, logger)
		if err != nil {
			log.Fatalf("creating object store: %v", err)
		}
	}

	keyPrefix := *prefix
	if keyPrefix == "" {
		keyPrefix = fmt.Sprintf("snapshots/%s/%s", *collection, time.Now().UTC().Format("20060102T150405Z"))
	}

	offset := 0
	pageIndex := 0
	total := 0
	for {
		hits, err := vectors.Scroll(ctx, *collection, vectorstore.Filter{}, *pageSize, offset)
		if err != nil {
			log.Fatalf("scrolling collection %q at offset %d: %v", *collection, offset, err)
		}
		if len(hits) == 0 {
			break
		}

		p := page{
			Collection: *collection,
			Offset:     offset,
			TakenAt:    time.Now().UTC().Format(time.RFC3339),
			Points:     hits,
		}
		key := fmt.Sprintf("%s/page-%05d.json", keyPrefix, pageIndex)

		if *dryRun {
			log.Printf("[dry-run] would write %s (%d points)", key, len(hits))
		} else {
			data, err := json.Marshal(p)
			if err != nil {
				log.Fatalf("marshaling page %d: %v", pageIndex, err)
			}
			if err := blobs.Put(ctx, key, data); err != nil {
				log.Fatalf("uploading %s: %v", key, err)
			}
			log.Printf("wrote %s (%d points)", key, len(hits))
		}

		total += len(hits)
		pageIndex++
		offset += len(hits)
		if len(hits) < *pageSize {
			break
		}
	}

	log.Printf("snapshot complete: %d points across %d pages under %s", total, pageIndex, keyPrefix)
}

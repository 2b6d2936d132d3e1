// Package vectorstore provides a backend-agnostic vector storage
// abstraction: a single Store interface backed by either Qdrant (gRPC,
// production) or an embedded chromem-go database (no external
// dependencies, used when no VECTOR_BACKEND_URL is configured).
//
// # Usage
//
//	store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
//	    Host: "localhost",
//	    Port: 6334,
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if err := store.EnsureCollection(ctx, "ragdocd_documents", 1536, vectorstore.Cosine); err != nil {
//	    return err
//	}
//
//	pointID, err := store.Upsert(ctx, "ragdocd_documents", "doc-123", embedding, map[string]interface{}{
//	    "doc_id":  "doc-123",
//	    "content": "the quick brown fox",
//	})
//
//	hits, err := store.Search(ctx, "ragdocd_documents", queryVector, 10, 0.5, vectorstore.Filter{
//	    "category": "reference",
//	})
//
// # Collection naming
//
// Collection names must match ^[a-z0-9_]{1,64}$ (see
// ValidateCollectionName). ChromemStore checks it on every call;
// QdrantStore checks it only in EnsureCollection.
//
// # Provider selection
//
// ChromemStore is the embedded fallback (dev mode and tests); QdrantStore
// is the production backend behind VECTOR_BACKEND_URL. Both implement
// the same Store interface, so callers never type-switch on backend.
package vectorstore

package registry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/a2afabric/broker/registry/store"
	"github.com/a2afabric/broker/registry/store/memory"
	goa "goa.design/goa/v3/pkg"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	testToolsetName = "data-tools"
	errNotFound     = "not_found"
	errValidation   = "validation_error"
)

// TestServerIntegration tests the full gRPC server stack using the
// hand-assembled ServiceDesc and matching Client, verifying the complete
// request/response cycle through the transport layer.
func TestServerIntegration(t *testing.T) {
	rdb := getRedis(t)
	ctx := context.Background()

	// Create the registry with test configuration.
	reg, err := New(ctx, Config{
		Redis:               rdb,
		Name:                "server-test-" + t.Name(),
		PingInterval:        50 * time.Millisecond,
		MissedPingThreshold: 2,
		PoolNodeOptions:     testNodeOpts(),
	})
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}
	defer func() {
		if err := reg.Close(ctx); err != nil {
			t.Errorf("close registry: %v", err)
		}
	}()

	client := startServerAndClient(t, reg)

	t.Run("register and list", func(t *testing.T) {
		desc := "Data processing tools"
		version := "1.0.0"

		// Register a toolset.
		regResult, err := client.Register(ctx, &RegisterPayload{
			Name:        testToolsetName,
			Description: &desc,
			Version:     &version,
			Tags:        []string{"data", "etl"},
			Tools: []*store.ToolSchema{
				{
					Name:          "transform",
					Description:   strPtr("Transform data"),
					PayloadSchema: []byte(`{"type":"object","properties":{"input":{"type":"string"}}}`),
					ResultSchema:  []byte(`{"type":"object"}`),
				},
			},
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		if regResult.StreamID == "" {
			t.Error("expected non-empty stream ID")
		}

		// List toolsets.
		listResult, err := client.ListToolsets(ctx, &ListToolsetsPayload{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(listResult.Toolsets) != 1 {
			t.Errorf("expected 1 toolset, got %d", len(listResult.Toolsets))
		}
		if listResult.Toolsets[0].Name != testToolsetName {
			t.Errorf("expected name %q, got %q", testToolsetName, listResult.Toolsets[0].Name)
		}
	})

	t.Run("get toolset", func(t *testing.T) {
		toolset, err := client.GetToolset(ctx, &GetToolsetPayload{
			Name: testToolsetName,
		})
		if err != nil {
			t.Fatalf("get toolset: %v", err)
		}
		if toolset.Name != testToolsetName {
			t.Errorf("expected name %q, got %q", testToolsetName, toolset.Name)
		}
		if len(toolset.Tools) != 1 {
			t.Errorf("expected 1 tool, got %d", len(toolset.Tools))
		}
		if toolset.Tools[0].Name != "transform" {
			t.Errorf("expected tool 'transform', got %q", toolset.Tools[0].Name)
		}
	})

	t.Run("get toolset not found", func(t *testing.T) {
		_, err := client.GetToolset(ctx, &GetToolsetPayload{
			Name: "nonexistent",
		})
		if err == nil {
			t.Fatal("expected error for nonexistent toolset")
		}
		var svcErr *goa.ServiceError
		if !errors.As(err, &svcErr) {
			t.Fatalf("expected ServiceError, got %T", err)
		}
		if svcErr.Name != errNotFound {
			t.Errorf("expected %q error, got %q", errNotFound, svcErr.Name)
		}
	})

	t.Run("search", func(t *testing.T) {
		searchResult, err := client.Search(ctx, &SearchPayload{
			Query: "data",
		})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(searchResult.Toolsets) != 1 {
			t.Errorf("expected 1 result, got %d", len(searchResult.Toolsets))
		}
	})

	t.Run("filter by tags", func(t *testing.T) {
		// Register another toolset with different tags.
		desc := "Analytics tools"
		_, err := client.Register(ctx, &RegisterPayload{
			Name:        "analytics-tools",
			Description: &desc,
			Tags:        []string{"analytics", "reporting"},
			Tools: []*store.ToolSchema{
				{
					Name:          "report",
					PayloadSchema: []byte(`{"type":"object"}`),
					ResultSchema:  []byte(`{"type":"object"}`),
				},
			},
		})
		if err != nil {
			t.Fatalf("register analytics: %v", err)
		}

		// Filter by 'etl' tag should only return data-tools.
		listResult, err := client.ListToolsets(ctx, &ListToolsetsPayload{
			Tags: []string{"etl"},
		})
		if err != nil {
			t.Fatalf("list with tags: %v", err)
		}
		if len(listResult.Toolsets) != 1 {
			t.Errorf("expected 1 toolset with 'etl' tag, got %d", len(listResult.Toolsets))
		}
		if listResult.Toolsets[0].Name != testToolsetName {
			t.Errorf("expected %q, got %q", testToolsetName, listResult.Toolsets[0].Name)
		}
	})

	t.Run("unregister", func(t *testing.T) {
		err := client.Unregister(ctx, &UnregisterPayload{
			Name: testToolsetName,
		})
		if err != nil {
			t.Fatalf("unregister: %v", err)
		}

		// Verify it's gone.
		_, err = client.GetToolset(ctx, &GetToolsetPayload{
			Name: testToolsetName,
		})
		if err == nil {
			t.Error("expected error after unregister")
		}
	})

	t.Run("unregister not found", func(t *testing.T) {
		err := client.Unregister(ctx, &UnregisterPayload{
			Name: "nonexistent",
		})
		if err == nil {
			t.Fatal("expected error for nonexistent toolset")
		}
		var svcErr *goa.ServiceError
		if !errors.As(err, &svcErr) {
			t.Fatalf("expected ServiceError, got %T", err)
		}
		if svcErr.Name != errNotFound {
			t.Errorf("expected %q error, got %q", errNotFound, svcErr.Name)
		}
	})
}

// TestServerMultiNodeSync tests that two registry nodes sharing the same Redis
// and store see consistent state through the gRPC interface.
func TestServerMultiNodeSync(t *testing.T) {
	rdb := getRedis(t)
	ctx := context.Background()

	// Create a shared store for both nodes.
	// In production, this would be a MongoDB store or similar.
	sharedStore := memory.New()

	// Create two registry nodes with the same name (cluster) and shared store.
	clusterName := "cluster-test-" + t.Name()

	reg1, err := New(ctx, Config{
		Redis:               rdb,
		Store:               sharedStore,
		Name:                clusterName,
		PingInterval:        50 * time.Millisecond,
		MissedPingThreshold: 2,
		PoolNodeOptions:     testNodeOpts(),
	})
	if err != nil {
		t.Fatalf("create registry 1: %v", err)
	}
	defer func() { _ = reg1.Close(ctx) }()

	reg2, err := New(ctx, Config{
		Redis:               rdb,
		Store:               sharedStore,
		Name:                clusterName,
		PingInterval:        50 * time.Millisecond,
		MissedPingThreshold: 2,
		PoolNodeOptions:     testNodeOpts(),
	})
	if err != nil {
		t.Fatalf("create registry 2: %v", err)
	}
	defer func() { _ = reg2.Close(ctx) }()

	// Start gRPC servers for both nodes.
	client1 := startServerAndClient(t, reg1)
	client2 := startServerAndClient(t, reg2)

	// Register on node 1.
	desc := "Shared toolset"
	_, err = client1.Register(ctx, &RegisterPayload{
		Name:        "shared-tools",
		Description: &desc,
		Tags:        []string{"shared"},
		Tools: []*store.ToolSchema{
			{
				Name:          "shared-tool",
				PayloadSchema: []byte(`{"type":"object"}`),
				ResultSchema:  []byte(`{"type":"object"}`),
			},
		},
	})
	if err != nil {
		t.Fatalf("register on node 1: %v", err)
	}

	// Query from node 2 - should see the toolset (shared store).
	listResult, err := client2.ListToolsets(ctx, &ListToolsetsPayload{})
	if err != nil {
		t.Fatalf("list from node 2: %v", err)
	}
	if len(listResult.Toolsets) != 1 {
		t.Errorf("expected 1 toolset on node 2, got %d", len(listResult.Toolsets))
	}

	// Unregister from node 2.
	err = client2.Unregister(ctx, &UnregisterPayload{
		Name: "shared-tools",
	})
	if err != nil {
		t.Fatalf("unregister from node 2: %v", err)
	}

	// Query from node 1 - should be gone (shared store).
	listResult, err = client1.ListToolsets(ctx, &ListToolsetsPayload{})
	if err != nil {
		t.Fatalf("list from node 1: %v", err)
	}
	if len(listResult.Toolsets) != 0 {
		t.Errorf("expected 0 toolsets on node 1 after unregister, got %d", len(listResult.Toolsets))
	}
}

// TestServerValidationErrors tests that the server properly returns validation
// errors through the gRPC transport.
func TestServerValidationErrors(t *testing.T) {
	rdb := getRedis(t)
	ctx := context.Background()

	reg, err := New(ctx, Config{
		Redis:               rdb,
		Name:                "validation-test-" + t.Name(),
		PingInterval:        50 * time.Millisecond,
		MissedPingThreshold: 2,
		PoolNodeOptions:     testNodeOpts(),
	})
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}
	defer func() { _ = reg.Close(ctx) }()

	client := startServerAndClient(t, reg)

	t.Run("invalid schema rejected", func(t *testing.T) {
		_, err := client.Register(ctx, &RegisterPayload{
			Name: "bad-schema-tools",
			Tools: []*store.ToolSchema{
				{
					Name:          "bad-tool",
					PayloadSchema: []byte(`{not valid json`),
					ResultSchema:  []byte(`{"type":"object"}`),
				},
			},
		})
		if err == nil {
			t.Fatal("expected error for invalid schema")
		}
		var svcErr *goa.ServiceError
		if !errors.As(err, &svcErr) {
			t.Fatalf("expected ServiceError, got %T: %v", err, err)
		}
		if svcErr.Name != errValidation {
			t.Errorf("expected %q, got %q", errValidation, svcErr.Name)
		}
	})

	t.Run("empty payload schema rejected", func(t *testing.T) {
		_, err := client.Register(ctx, &RegisterPayload{
			Name: "empty-schema-tools",
			Tools: []*store.ToolSchema{
				{
					Name:          "empty-tool",
					PayloadSchema: []byte{},
					ResultSchema:  []byte(`{"type":"object"}`),
				},
			},
		})
		if err == nil {
			t.Fatal("expected error for empty schema")
		}
		var svcErr *goa.ServiceError
		if !errors.As(err, &svcErr) {
			t.Fatalf("expected ServiceError, got %T: %v", err, err)
		}
		if svcErr.Name != errValidation {
			t.Errorf("expected %q, got %q", errValidation, svcErr.Name)
		}
	})
}

// startServerAndClient starts a gRPC server for the registry and returns a
// connected Client. The server is stopped when the test completes.
func startServerAndClient(t *testing.T, reg *Registry) *Client {
	t.Helper()

	var lc net.ListenConfig
	lis, err := lc.Listen(context.Background(), "tcp", "localhost:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	grpcServer := grpc.NewServer()
	registerRegistryServer(grpcServer, reg.Service())

	go func() {
		_ = grpcServer.Serve(lis)
	}()
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient(
		lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return NewClient(conn)
}

func strPtr(s string) *string {
	return &s
}

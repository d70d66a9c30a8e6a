package executor_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/whitemike889/federation-planner/federation/executor"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		target   map[string]interface{}
		source   interface{}
		path     []string
		expected map[string]interface{}
	}{
		{
			name: "Simple merge at root level",
			target: map[string]interface{}{
				"product": map[string]interface{}{
					"id": "1",
				},
			},
			source: map[string]interface{}{
				"reviews": []interface{}{
					map[string]interface{}{
						"body": "Great product",
					},
				},
			},
			path: []string{},
			expected: map[string]interface{}{
				"product": map[string]interface{}{
					"id": "1",
				},
				"reviews": []interface{}{
					map[string]interface{}{
						"body": "Great product",
					},
				},
			},
		},
		{
			name: "Merge into nested object",
			target: map[string]interface{}{
				"product": map[string]interface{}{
					"id": "1",
				},
			},
			source: map[string]interface{}{
				"name": "Product 1",
			},
			path: []string{"product"},
			expected: map[string]interface{}{
				"product": map[string]interface{}{
					"id":   "1",
					"name": "Product 1",
				},
			},
		},
		{
			name: "Merge into array elements",
			target: map[string]interface{}{
				"products": []interface{}{
					map[string]interface{}{
						"id": "1",
					},
					map[string]interface{}{
						"id": "2",
					},
				},
			},
			source: []interface{}{
				map[string]interface{}{
					"name": "Product 1",
				},
				map[string]interface{}{
					"name": "Product 2",
				},
			},
			path: []string{"products"},
			expected: map[string]interface{}{
				"products": []interface{}{
					map[string]interface{}{
						"id":   "1",
						"name": "Product 1",
					},
					map[string]interface{}{
						"id":   "2",
						"name": "Product 2",
					},
				},
			},
		},
		{
			name: "Merge deeply nested field",
			target: map[string]interface{}{
				"user": map[string]interface{}{
					"id": "1",
					"posts": []interface{}{
						map[string]interface{}{
							"id": "10",
						},
						map[string]interface{}{
							"id": "20",
						},
					},
				},
			},
			source: []interface{}{
				map[string]interface{}{
					"title": "Post 1",
				},
				map[string]interface{}{
					"title": "Post 2",
				},
			},
			path: []string{"user", "posts"},
			expected: map[string]interface{}{
				"user": map[string]interface{}{
					"id": "1",
					"posts": []interface{}{
						map[string]interface{}{
							"id":    "10",
							"title": "Post 1",
						},
						map[string]interface{}{
							"id":    "20",
							"title": "Post 2",
						},
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := executor.Merge(tt.target, tt.source, tt.path)
			if err != nil {
				t.Fatalf("Merge() error = %v", err)
			}

			// Compare the result
			if diff := cmp.Diff(tt.expected, tt.target); diff != "" {
				t.Errorf("Merge() result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

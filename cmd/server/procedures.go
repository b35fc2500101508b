package main

import (
	"context"

	"gantry/internal/cache"
	"gantry/internal/platform/config"
	"gantry/internal/procedure"
	"gantry/internal/repository"
	"gantry/internal/storage"
	"gantry/pkg/domainerrors"
)

// registerItemProcedures declares the item CRUD surface. Items are the
// built-in entity; deployments add their own procedure sets the same way.
func registerItemProcedures(registry *procedure.Registry, cfg config.Config) error {
	defs := []procedure.Definition{
		{
			Name:       "item.create",
			Kind:       procedure.KindMutation,
			EntityType: "item",
			InputSchema: `{
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string", "minLength": 1, "maxLength": 255}
				},
				"additionalProperties": true
			}`,
			RequiredPermission: "item.create",
			InvalidationTags:   []string{"items"},
			Handler: func(ctx context.Context, input map[string]any, inv *procedure.Invocation) (*procedure.Result, error) {
				m, err := inv.Repo.Insert(ctx, input)
				if err != nil {
					return nil, err
				}
				return &procedure.Result{Value: m.After, Mutation: m}, nil
			},
		},
		{
			Name:       "item.get",
			Kind:       procedure.KindQuery,
			EntityType: "item",
			InputSchema: `{
				"type": "object",
				"required": ["id"],
				"properties": {"id": {"type": "string", "minLength": 1}}
			}`,
			RequiredPermission: "item.read",
			Cache: &procedure.CachePolicy{
				TTL:  cfg.DefaultCacheTTL,
				Tags: []string{"items"},
				// Cached under the entity key so a mutation tears this entry
				// down directly instead of through the tag scan.
				Key: func(input map[string]any, sc procedure.ServiceContext) string {
					id, _ := input["id"].(string)
					return cache.EntityKey("item", sc.TenantID, id)
				},
			},
			Handler: func(ctx context.Context, input map[string]any, inv *procedure.Invocation) (*procedure.Result, error) {
				id, _ := input["id"].(string)
				e, err := inv.Repo.FindOne(ctx, id)
				if err != nil {
					return nil, err
				}
				if e == nil {
					return nil, domainerrors.New(domainerrors.CodeNotFound, "item not found")
				}
				return &procedure.Result{Value: e}, nil
			},
		},
		{
			Name:       "item.list",
			Kind:       procedure.KindQuery,
			EntityType: "item",
			InputSchema: `{
				"type": "object",
				"properties": {
					"filter": {"type": "object"},
					"page": {"type": "integer", "minimum": 1},
					"size": {"type": "integer", "minimum": 1},
					"sort": {"type": "string"},
					"desc": {"type": "boolean"}
				}
			}`,
			RequiredPermission: "item.read",
			Cache:              &procedure.CachePolicy{TTL: cfg.DefaultCacheTTL, Tags: []string{"items"}},
			Handler: func(ctx context.Context, input map[string]any, inv *procedure.Invocation) (*procedure.Result, error) {
				filter, _ := input["filter"].(map[string]any)
				page := repository.Page{}
				if n, ok := input["page"].(float64); ok {
					page.Number = int(n)
				}
				if n, ok := input["size"].(float64); ok {
					page.Size = int(n)
				}
				sort := storage.Sort{Field: "name"}
				if f, ok := input["sort"].(string); ok && f != "" {
					sort.Field = f
				}
				if desc, ok := input["desc"].(bool); ok {
					sort.Desc = desc
				}
				res, err := inv.Repo.List(ctx, filter, page, sort)
				if err != nil {
					return nil, err
				}
				return &procedure.Result{Value: res}, nil
			},
		},
		{
			Name:       "item.update",
			Kind:       procedure.KindMutation,
			EntityType: "item",
			InputSchema: `{
				"type": "object",
				"required": ["id", "patch"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"patch": {"type": "object", "minProperties": 1}
				}
			}`,
			RequiredPermission: "item.update",
			InvalidationTags:   []string{"items"},
			Handler: func(ctx context.Context, input map[string]any, inv *procedure.Invocation) (*procedure.Result, error) {
				id, _ := input["id"].(string)
				patch, _ := input["patch"].(map[string]any)
				m, err := inv.Repo.Update(ctx, id, patch)
				if err != nil {
					return nil, err
				}
				if m == nil {
					return &procedure.Result{}, nil
				}
				return &procedure.Result{Value: m.After, Mutation: m}, nil
			},
		},
		{
			Name:       "item.delete",
			Kind:       procedure.KindMutation,
			EntityType: "item",
			InputSchema: `{
				"type": "object",
				"required": ["id"],
				"properties": {"id": {"type": "string", "minLength": 1}}
			}`,
			RequiredPermission: "item.delete",
			CrossTenant:        true,
			InvalidationTags:   []string{"items"},
			Handler: func(ctx context.Context, input map[string]any, inv *procedure.Invocation) (*procedure.Result, error) {
				id, _ := input["id"].(string)
				m, err := inv.Repo.Delete(ctx, id)
				if err != nil {
					return nil, err
				}
				if m == nil {
					return &procedure.Result{}, nil
				}
				return &procedure.Result{Value: m.Before, Mutation: m}, nil
			},
		},
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Package graph resolves users, groups and service principals through Microsoft Graph.
package graph

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"lakedeploy/internal/api"
	"lakedeploy/pkg/errors"
)

// Principal types, named as Fabric role assignments expect them
const (
	PrincipalUser             = "User"
	PrincipalGroup            = "Group"
	PrincipalServicePrincipal = "ServicePrincipal"
)

// Principal is a resolved directory object
type Principal struct {
	ID          string
	Type        string
	DisplayName string
}

type directoryObject struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Client queries Microsoft Graph
type Client struct {
	api *api.Client
}

// NewClient creates a Graph client on top of an api client rooted at .../v1.0
func NewClient(c *api.Client) *Client {
	return &Client{api: c}
}

var collections = []struct {
	path  string
	ptype string
}{
	{"users", PrincipalUser},
	{"groups", PrincipalGroup},
	{"servicePrincipals", PrincipalServicePrincipal},
}

// ResolvePrincipal resolves an object ID, user principal name or display name.
// Object IDs are looked up as user, group, then service principal. Anything containing
// '@' is a user principal name. Other values match a group by display name, then a
// service principal.
func (c *Client) ResolvePrincipal(ctx context.Context, identifier string) (*Principal, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "empty principal identifier")
	}

	if id, err := uuid.Parse(identifier); err == nil {
		return c.resolveObjectID(ctx, id.String())
	}

	if strings.Contains(identifier, "@") {
		obj, err := c.getObject(ctx, "users/"+url.PathEscape(identifier))
		if err != nil {
			return nil, err
		}
		if obj != nil {
			return &Principal{ID: obj.ID, Type: PrincipalUser, DisplayName: obj.DisplayName}, nil
		}
		return nil, principalNotFound(identifier)
	}

	for _, coll := range collections[1:] {
		obj, err := c.findByDisplayName(ctx, coll.path, identifier)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			return &Principal{ID: obj.ID, Type: coll.ptype, DisplayName: obj.DisplayName}, nil
		}
	}
	return nil, principalNotFound(identifier)
}

func (c *Client) resolveObjectID(ctx context.Context, id string) (*Principal, error) {
	for _, coll := range collections {
		obj, err := c.getObject(ctx, coll.path+"/"+id)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			return &Principal{ID: obj.ID, Type: coll.ptype, DisplayName: obj.DisplayName}, nil
		}
	}
	return nil, principalNotFound(id)
}

func (c *Client) getObject(ctx context.Context, path string) (*directoryObject, error) {
	var obj directoryObject
	err := c.api.Get(ctx, path, url.Values{"$select": {"id,displayName,userPrincipalName"}}, &obj)
	if api.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

func (c *Client) findByDisplayName(ctx context.Context, collection, name string) (*directoryObject, error) {
	filter := "displayName eq '" + strings.ReplaceAll(name, "'", "''") + "'"
	objects, err := api.ListAll[directoryObject](ctx, c.api, collection, url.Values{
		"$filter": {filter},
		"$select": {"id,displayName"},
	})
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, nil
	}
	return &objects[0], nil
}

func principalNotFound(identifier string) error {
	return errors.Newf(errors.ErrCodeNotFound, "Principal '%s' not found in the directory", identifier).
		WithContext("identifier", identifier).
		WithSuggestions(
			"Use an object ID, a user principal name (user@domain) or a group display name",
			"Check that the deploying identity can read the directory (User.Read.All, Group.Read.All)",
		)
}

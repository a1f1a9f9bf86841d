package fabric

import (
	"context"
	"strings"

	"lakedeploy/internal/api"
	"lakedeploy/internal/common"
	"lakedeploy/pkg/errors"
)

// ListFolders returns every folder in the workspace
func (c *Client) ListFolders(ctx context.Context, workspaceID string) ([]Folder, error) {
	return api.ListAll[Folder](ctx, c.api, wsPath(workspaceID, "folders"), nil)
}

// CreateFolder creates a folder under parentID (empty for the workspace root)
func (c *Client) CreateFolder(ctx context.Context, workspaceID, name, parentID string) (*Folder, error) {
	body := map[string]string{"displayName": name}
	if parentID != "" {
		body["parentFolderId"] = parentID
	}

	var f Folder
	if err := c.api.Post(ctx, wsPath(workspaceID, "folders"), body, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// FolderTree indexes a workspace's folders by slash-separated path
type FolderTree struct {
	byPath map[string]string
}

// LoadFolderTree reads every folder in the workspace and indexes them by path
func (c *Client) LoadFolderTree(ctx context.Context, workspaceID string) (*FolderTree, error) {
	folders, err := c.ListFolders(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return newFolderTree(folders), nil
}

func newFolderTree(folders []Folder) *FolderTree {
	byID := make(map[string]Folder, len(folders))
	for _, f := range folders {
		byID[f.ID] = f
	}

	tree := &FolderTree{byPath: make(map[string]string, len(folders))}
	for _, f := range folders {
		path := f.DisplayName
		seen := map[string]bool{f.ID: true}
		for parent := f.ParentFolderID; parent != ""; {
			p, ok := byID[parent]
			if !ok || seen[parent] {
				break
			}
			seen[parent] = true
			path = p.DisplayName + "/" + path
			parent = p.ParentFolderID
		}
		tree.byPath[path] = f.ID
	}
	return tree
}

// Lookup returns the folder ID for path
func (t *FolderTree) Lookup(path string) (string, bool) {
	id, ok := t.byPath[path]
	return id, ok
}

// Len returns the number of indexed folders
func (t *FolderTree) Len() int {
	return len(t.byPath)
}

// EnsureFolderPath creates each missing segment of path ("a/b/c") and returns the leaf folder ID.
// An empty path means the workspace root and returns "".
func (c *Client) EnsureFolderPath(ctx context.Context, workspaceID string, tree *FolderTree, path string) (string, error) {
	clean, err := common.RemotePath(path)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid folder path").WithContext("path", path)
	}
	if clean == "" {
		return "", nil
	}

	if tree == nil {
		if tree, err = c.LoadFolderTree(ctx, workspaceID); err != nil {
			return "", err
		}
	}

	parentID := ""
	current := ""
	for _, segment := range strings.Split(clean, "/") {
		if current == "" {
			current = segment
		} else {
			current += "/" + segment
		}

		if id, ok := tree.byPath[current]; ok {
			parentID = id
			continue
		}

		folder, err := c.CreateFolder(ctx, workspaceID, segment, parentID)
		if err != nil {
			return "", err
		}
		tree.byPath[current] = folder.ID
		parentID = folder.ID
	}

	return parentID, nil
}

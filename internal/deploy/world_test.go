package deploy

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"

	"lakedeploy/internal/api/apitest"
	"lakedeploy/internal/fabric"
	"lakedeploy/internal/graph"
	"lakedeploy/internal/powerbi"
	"lakedeploy/internal/testutil"
)

const testWorkspaceID = "ws-1"

// fakeWorld plays the Fabric, OneLake, Power BI and Graph services with enough
// state for a deployment to find what an earlier run created
type fakeWorld struct {
	t      *testing.T
	server *testutil.FakeServer

	mu         sync.Mutex
	workspaces []fabric.Workspace
	folders    []fabric.Folder
	lakehouses []fabric.Item
	items      []fabric.Item
	jobStatus  string
	jobs       int
}

func newWorld(t *testing.T) *fakeWorld {
	w := &fakeWorld{t: t, server: testutil.NewFakeServer(t), jobStatus: fabric.JobCompleted}
	w.routes()
	return w
}

func (w *fakeWorld) clients() *Clients {
	return &Clients{
		Fabric: fabric.NewClient(
			apitest.NewClient(w.server, "fabric", "/v1"),
			apitest.NewClient(w.server, "onelake", "/onelake"),
		),
		PowerBI: powerbi.NewClient(apitest.NewClient(w.server, "powerbi", "/v1.0/myorg")),
		Graph:   graph.NewClient(apitest.NewClient(w.server, "graph", "/graph")),
	}
}

func (w *fakeWorld) setJobStatus(status string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobStatus = status
}

func (w *fakeWorld) jobCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.jobs
}

func (w *fakeWorld) routes() {
	s := w.server
	ws := "/v1/workspaces/" + testWorkspaceID

	s.Reply(http.MethodGet, "/v1/capacities", http.StatusOK, map[string]interface{}{
		"value": []fabric.Capacity{{ID: "cap-1", DisplayName: "fabriccapacity01", State: "Active"}},
	})

	s.Handle(http.MethodGet, "/v1/workspaces", func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		defer w.mu.Unlock()
		testutil.WriteJSON(rw, http.StatusOK, map[string]interface{}{"value": w.workspaces})
	})
	s.Handle(http.MethodPost, "/v1/workspaces", func(rw http.ResponseWriter, r *http.Request) {
		var body fabric.Workspace
		w.decode(r, &body)
		body.ID = testWorkspaceID
		w.mu.Lock()
		w.workspaces = append(w.workspaces, body)
		w.mu.Unlock()
		testutil.WriteJSON(rw, http.StatusCreated, body)
	})
	s.Reply(http.MethodPost, ws+"/roleAssignments", http.StatusCreated, map[string]string{"id": "ra-1"})

	s.Handle(http.MethodGet, ws+"/folders", func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		defer w.mu.Unlock()
		testutil.WriteJSON(rw, http.StatusOK, map[string]interface{}{"value": w.folders})
	})
	s.Handle(http.MethodPost, ws+"/folders", func(rw http.ResponseWriter, r *http.Request) {
		var f fabric.Folder
		w.decode(r, &f)
		w.mu.Lock()
		f.ID = fmt.Sprintf("folder-%d", len(w.folders)+1)
		w.folders = append(w.folders, f)
		w.mu.Unlock()
		testutil.WriteJSON(rw, http.StatusCreated, f)
	})

	s.Handle(http.MethodGet, ws+"/lakehouses", func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		defer w.mu.Unlock()
		testutil.WriteJSON(rw, http.StatusOK, map[string]interface{}{"value": w.lakehouses})
	})
	s.Handle(http.MethodPost, ws+"/lakehouses", func(rw http.ResponseWriter, r *http.Request) {
		var lh fabric.Item
		w.decode(r, &lh)
		lh.ID = "lh-" + lh.DisplayName
		lh.Type = fabric.ItemTypeLakehouse
		w.mu.Lock()
		w.lakehouses = append(w.lakehouses, lh)
		w.mu.Unlock()

		s.Reply(http.MethodGet, ws+"/lakehouses/"+lh.ID, http.StatusOK, map[string]interface{}{
			"id":          lh.ID,
			"displayName": lh.DisplayName,
			"properties": map[string]interface{}{
				"sqlEndpointProperties": map[string]string{
					"id":                 "sql-" + lh.DisplayName,
					"connectionString":   "abc.datawarehouse.fabric.microsoft.com",
					"provisioningStatus": "Success",
				},
			},
		})
		testutil.WriteJSON(rw, http.StatusCreated, lh)
	})

	s.Handle(http.MethodGet, ws+"/items", func(rw http.ResponseWriter, r *http.Request) {
		itemType := r.URL.Query().Get("type")
		w.mu.Lock()
		defer w.mu.Unlock()
		out := []fabric.Item{}
		for _, it := range w.items {
			if itemType == "" || it.Type == itemType {
				out = append(out, it)
			}
		}
		testutil.WriteJSON(rw, http.StatusOK, map[string]interface{}{"value": out})
	})
	s.Handle(http.MethodPost, ws+"/items", func(rw http.ResponseWriter, r *http.Request) {
		var it fabric.Item
		w.decode(r, &it)
		it.ID = "item-" + it.DisplayName
		w.addItem(it)
		testutil.WriteJSON(rw, http.StatusCreated, it)
	})

	s.Handle(http.MethodPost, ws+"/environments", func(rw http.ResponseWriter, r *http.Request) {
		var it fabric.Item
		w.decode(r, &it)
		it.ID = "env-1"
		it.Type = fabric.ItemTypeEnvironment
		w.addItem(it)
		testutil.WriteJSON(rw, http.StatusCreated, it)
	})
	s.Reply(http.MethodPost, ws+"/environments/env-1/staging/libraries", http.StatusOK, nil)
	s.Reply(http.MethodPost, ws+"/environments/env-1/staging/publish", http.StatusOK, map[string]interface{}{
		"publishDetails": map[string]string{"state": "Running", "targetVersion": "v1"},
	})
	s.Reply(http.MethodGet, ws+"/environments/env-1", http.StatusOK, map[string]interface{}{
		"id":         "env-1",
		"properties": map[string]interface{}{"publishDetails": map[string]string{"state": "Success", "targetVersion": "v1"}},
	})

	for _, file := range []string{"samples/shared/customer.csv", "samples/sales/order.csv"} {
		path := "/onelake/" + testWorkspaceID + "/lh-maag_bronze/Files/" + file
		s.Reply(http.MethodPut, path, http.StatusCreated, nil)
		s.Reply(http.MethodPatch, path, http.StatusOK, nil)
	}

	pbi := "/v1.0/myorg/groups/" + testWorkspaceID
	s.Reply(http.MethodPost, pbi+"/imports", http.StatusAccepted, map[string]string{"id": "imp-1"})
	s.Reply(http.MethodGet, pbi+"/imports/imp-1", http.StatusOK, map[string]interface{}{
		"id":          "imp-1",
		"name":        "Sales Overview",
		"importState": powerbi.ImportSucceeded,
		"datasets":    []powerbi.Dataset{{ID: "ds-1", Name: "Sales Overview"}},
		"reports":     []powerbi.Report{{ID: "rep-1", Name: "Sales Overview", DatasetID: "ds-1"}},
	})
	s.Reply(http.MethodPost, pbi+"/datasets/ds-1/Default.TakeOver", http.StatusOK, nil)
	s.Reply(http.MethodPost, pbi+"/datasets/ds-1/Default.UpdateParameters", http.StatusOK, nil)
	s.Reply(http.MethodPost, ws+"/items/ds-1/move", http.StatusOK, nil)
	s.Reply(http.MethodPost, ws+"/items/rep-1/move", http.StatusOK, nil)

	s.Reply(http.MethodGet, "/graph/users/admin@contoso.com", http.StatusOK, map[string]string{
		"id":          "11111111-1111-1111-1111-111111111111",
		"displayName": "Contoso Admin",
	})
}

// addItem stores an item and registers its per-item routes
func (w *fakeWorld) addItem(it fabric.Item) {
	w.mu.Lock()
	w.items = append(w.items, it)
	w.mu.Unlock()

	s := w.server
	base := "/v1/workspaces/" + testWorkspaceID + "/items/" + it.ID
	s.Reply(http.MethodPost, base+"/updateDefinition", http.StatusOK, nil)
	s.Handle(http.MethodPost, base+"/jobs/instances", func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		w.jobs++
		jobID := fmt.Sprintf("job-%d", w.jobs)
		status := w.jobStatus
		w.mu.Unlock()

		s.Reply(http.MethodGet, base+"/jobs/instances/"+jobID, http.StatusOK, map[string]interface{}{
			"id":     jobID,
			"itemId": it.ID,
			"status": status,
			"failureReason": map[string]string{
				"errorCode": "NotebookFailed",
				"message":   "cell 3 raised an exception",
			},
		})
		rw.Header().Set("Location", s.URL+base+"/jobs/instances/"+jobID)
		rw.WriteHeader(http.StatusAccepted)
	})
}

func (w *fakeWorld) decode(r *http.Request, v interface{}) {
	body, err := io.ReadAll(r.Body)
	if assert.NoError(w.t, err) {
		assert.NoError(w.t, json.Unmarshal(body, v), "decode %s %s", r.Method, r.URL.Path)
	}
}

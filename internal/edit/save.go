package edit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"

	"kexplorer/internal/kube"
)

type SaveStage string

const (
	StageReadOnly SaveStage = "read-only"
	StageValidate SaveStage = "validate"
	StageIdentity SaveStage = "identity"
	StageDryRun   SaveStage = "dry-run"
	StageApply    SaveStage = "apply"
)

// SaveError reports the first stage of the save pipeline that rejected the
// document. Line and Column are 1-based and only set for syntax errors.
type SaveError struct {
	Stage   SaveStage    `json:"stage"`
	Type    kube.ErrType `json:"-"`
	Message string       `json:"message"`
	Detail  string       `json:"detail,omitempty"`
	Line    int          `json:"line,omitempty"`
	Column  int          `json:"column,omitempty"`
	Err     error        `json:"-"`
}

func (e *SaveError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s failed at line %d: %s", e.Stage, e.Line, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Message)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

func stageError(stage SaveStage, err error) *SaveError {
	var kerr *kube.Error
	if errors.As(kube.Classify(err), &kerr) {
		return &SaveError{Stage: stage, Type: kerr.Type, Message: kerr.Message, Detail: kerr.Detail, Err: err}
	}
	return &SaveError{Stage: stage, Message: err.Error(), Err: err}
}

// Save runs the pipeline for the session at key with content as the new
// buffer: read-only gate, syntax validation, identity check, stripping of
// server managed fields, dry-run, apply, re-fetch. Each stage gates the
// next. On failure the session keeps content and is marked dirty, even when
// content equals what was loaded.
func (c *Coordinator) Save(ctx context.Context, key, content string) (Session, error) {
	s, err := c.UpdateContent(key, content)
	if err != nil {
		return Session{}, err
	}
	id := s.Resource

	if s.ReadOnly {
		return c.failSave(s, &SaveError{
			Stage:   StageReadOnly,
			Type:    kube.ErrPermissionDenied,
			Message: "editor is read-only",
		})
	}

	c.detector.Pause(key)
	defer c.detector.Resume(key)

	obj, serr := parseDocument(content)
	if serr == nil {
		serr = checkIdentity(id, obj)
	}
	if serr != nil {
		return c.failSave(s, serr)
	}
	stripServerFields(obj)

	if _, err := c.client.Apply(ctx, id, obj, true); err != nil {
		return c.failSave(s, stageError(StageDryRun, err))
	}

	applied, err := c.client.Apply(ctx, id, obj, false)
	if err != nil {
		return c.failSave(s, stageError(StageApply, err))
	}

	version := applied.GetResourceVersion()
	if live, err := c.client.Get(ctx, id); err != nil {
		c.log.V(1).Info("re-fetch after save failed", "key", key, "err", err.Error())
	} else if rv := live.GetResourceVersion(); rv != "" {
		version = rv
	}

	out, err := c.withSession(key, s.ID, func(s *Session) {
		s.Version = version
		s.Original = content
		s.Dirty = s.Content != content
		c.detector.SetDirty(key, s.Dirty)
		c.detector.Synced(key, version)
	})
	if err != nil {
		// Closed while saving; the write itself succeeded.
		return s, nil
	}
	c.log.Info("resource saved", "key", key, "resourceVersion", version)

	if c.refresher != nil {
		c.refresher.RefreshContext(id.Cluster)
	}
	return out, nil
}

// failSave logs serr, marks the session dirty and returns it with serr.
func (c *Coordinator) failSave(s Session, serr *SaveError) (Session, error) {
	if serr.Stage != StageReadOnly {
		c.log.Error(serr, "save failed", "key", s.Key, "stage", string(serr.Stage), "type", serr.Type.String(), "detail", serr.Detail)
	}
	if serr.Type == kube.ErrPermissionDenied {
		// The cached answer that let the editor open writable was wrong.
		c.perms.Forget(s.Resource)
	}
	out, err := c.withSession(s.Key, s.ID, func(cur *Session) {
		cur.Dirty = true
		c.detector.SetDirty(s.Key, true)
	})
	if err != nil {
		out = s
		out.Dirty = true
	}
	return out, serr
}

var yamlPosition = regexp.MustCompile(`line (\d+)(?:, column (\d+))?`)

// parseDocument validates content as exactly one YAML document and
// converts it to an object.
func parseDocument(content string) (*unstructured.Unstructured, *SaveError) {
	dec := yamlv3.NewDecoder(strings.NewReader(content))
	docs := 0
	for {
		var node yamlv3.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, syntaxError(err)
		}
		docs++
	}
	switch {
	case docs == 0:
		return nil, &SaveError{Stage: StageValidate, Type: kube.ErrValidationFailed, Message: "document is empty"}
	case docs > 1:
		return nil, &SaveError{Stage: StageValidate, Type: kube.ErrValidationFailed, Message: "only one YAML document can be saved"}
	}

	js, err := yaml.YAMLToJSON([]byte(content))
	if err != nil {
		return nil, syntaxError(err)
	}
	obj := &unstructured.Unstructured{}
	if err := obj.UnmarshalJSON(js); err != nil {
		return nil, &SaveError{Stage: StageValidate, Type: kube.ErrValidationFailed, Message: "not a Kubernetes object", Detail: err.Error(), Err: err}
	}
	return obj, nil
}

func syntaxError(err error) *SaveError {
	msg := strings.TrimPrefix(err.Error(), "yaml: ")
	serr := &SaveError{Stage: StageValidate, Type: kube.ErrValidationFailed, Message: msg, Detail: err.Error(), Err: err}
	if m := yamlPosition.FindStringSubmatch(msg); m != nil {
		serr.Line, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			serr.Column, _ = strconv.Atoi(m[2])
		}
	}
	return serr
}

// checkIdentity rejects a document that would save to a different object
// than the one the editor was opened for. A missing namespace is filled in.
func checkIdentity(id ResourceID, obj *unstructured.Unstructured) *SaveError {
	mismatch := func(field, want, got string) *SaveError {
		return &SaveError{
			Stage:   StageIdentity,
			Type:    kube.ErrValidationFailed,
			Message: fmt.Sprintf("%s must stay %q, document has %q", field, want, got),
		}
	}
	if !strings.EqualFold(obj.GetKind(), id.Kind) {
		return mismatch("kind", id.Kind, obj.GetKind())
	}
	if obj.GetName() != id.Name {
		return mismatch("metadata.name", id.Name, obj.GetName())
	}
	switch ns := obj.GetNamespace(); {
	case ns == "" && id.Namespace != "":
		obj.SetNamespace(id.Namespace)
	case ns != id.Namespace:
		return mismatch("metadata.namespace", id.Namespace, ns)
	}
	return nil
}

const lastAppliedAnnotation = "kubectl.kubernetes.io/last-applied-configuration"

var serverFields = [][]string{
	{"metadata", "resourceVersion"},
	{"metadata", "uid"},
	{"metadata", "creationTimestamp"},
	{"metadata", "generation"},
	{"metadata", "selfLink"},
	{"metadata", "managedFields"},
	{"status"},
}

// stripServerFields removes what the API server owns so that apply does
// not fight over it.
func stripServerFields(obj *unstructured.Unstructured) {
	for _, f := range serverFields {
		unstructured.RemoveNestedField(obj.Object, f...)
	}
	ann := obj.GetAnnotations()
	delete(ann, lastAppliedAnnotation)
	if len(ann) == 0 {
		unstructured.RemoveNestedField(obj.Object, "metadata", "annotations")
	} else {
		obj.SetAnnotations(ann)
	}
}

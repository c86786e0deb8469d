package pods

import (
	"fmt"

	"github.com/judepayne/go-pods/envelope"
	"github.com/judepayne/go-pods/nsregistry"
)

// describeReply is the parsed shape of a pod's response to {"op":"describe"}.
type describeReply struct {
	Format     string
	Namespaces []namespaceDescriptor
	Readers    map[string]map[string]string // host-dialect -> tag -> source
	Defer      map[string]bool
	Ops        map[string]string
}

type namespaceDescriptor struct {
	Name string
	Vars []varDescriptor
}

type varDescriptor struct {
	Name  string
	Doc   string
	Async bool
	Code  string
}

// parseDescribeReply decodes the raw envelope dict a pod sends back for
// describe into the shape loadPod needs to populate the namespace registry.
func parseDescribeReply(d envelope.Dict) (*describeReply, error) {
	format, ok := d.String("format")
	if !ok {
		return nil, fmt.Errorf("describe reply missing format")
	}

	rawNamespaces, _ := d["namespaces"].(envelope.List)
	namespaces := make([]namespaceDescriptor, 0, len(rawNamespaces))
	for _, raw := range rawNamespaces {
		nsDict, ok := raw.(envelope.Dict)
		if !ok {
			continue
		}
		namespaces = append(namespaces, parseNamespaceDict(nsDict))
	}

	reply := &describeReply{
		Format:     format,
		Namespaces: namespaces,
		Readers:    map[string]map[string]string{},
		Defer:      map[string]bool{},
		Ops:        map[string]string{},
	}

	if rawReaders, ok := d["readers"].(envelope.Dict); ok {
		for dialect, v := range rawReaders {
			tagSrc, ok := v.(envelope.Dict)
			if !ok {
				continue
			}
			m := map[string]string{}
			for tag, src := range tagSrc {
				if b, ok := src.([]byte); ok {
					m[tag] = string(b)
				}
			}
			reply.Readers[dialect] = m
		}
	}

	if rawDefer, ok := d["defer"].(envelope.List); ok {
		for _, v := range rawDefer {
			if b, ok := v.([]byte); ok {
				reply.Defer[string(b)] = true
			}
		}
	}

	if rawOps, ok := d["ops"].(envelope.Dict); ok {
		for name, v := range rawOps {
			if b, ok := v.([]byte); ok {
				reply.Ops[name] = string(b)
			}
		}
	}

	return reply, nil
}

func parseNamespaceDict(d envelope.Dict) namespaceDescriptor {
	name, _ := d.String("name")
	ns := namespaceDescriptor{Name: name}

	rawVars, _ := d["vars"].(envelope.List)
	for _, raw := range rawVars {
		varDict, ok := raw.(envelope.Dict)
		if !ok {
			continue
		}
		ns.Vars = append(ns.Vars, parseVarDict(varDict))
	}
	return ns
}

func parseVarDict(d envelope.Dict) varDescriptor {
	name, _ := d.String("name")
	doc, _ := d.String("doc")
	code, _ := d.String("code")
	async := false
	switch b := d["async"].(type) {
	case int64:
		async = b != 0
	case envelope.Int:
		async = b != 0
	}
	return varDescriptor{Name: name, Doc: doc, Async: async, Code: code}
}

// toRegistryNamespace converts a parsed namespace descriptor into a
// nsregistry.Namespace owned by podID. call builds the remote-invoke closure
// for a given var name; it is nil-safe to pass for namespaces with only
// host-evaluated vars.
func toRegistryNamespace(desc namespaceDescriptor, podID string, call func(varName string) func([]any) (any, error)) *nsregistry.Namespace {
	ns := nsregistry.NewNamespace(desc.Name, podID)
	for _, v := range desc.Vars {
		entry := &nsregistry.Var{
			Name:      v.Name,
			Namespace: desc.Name,
			Doc:       v.Doc,
			Async:     v.Async,
		}
		if v.Code != "" {
			entry.Kind = nsregistry.HostEvaluation
			entry.Code = v.Code
		} else {
			entry.Kind = nsregistry.RemoteCallable
			entry.Call = call(v.Name)
		}
		ns.Add(entry)
	}
	return ns
}

// parseNamespaceDescriptor adapts a load-ns reply, shaped like a describe
// reply carrying the single now-loaded namespace, into a namespaceDescriptor.
func parseNamespaceDescriptor(ns string, reply any) (namespaceDescriptor, error) {
	d, ok := reply.(envelope.Dict)
	if !ok {
		return namespaceDescriptor{}, fmt.Errorf("load-ns reply for %s is not a dictionary", ns)
	}
	rawNamespaces, _ := d["namespaces"].(envelope.List)
	for _, raw := range rawNamespaces {
		nsDict, ok := raw.(envelope.Dict)
		if !ok {
			continue
		}
		desc := parseNamespaceDict(nsDict)
		if desc.Name == ns || len(rawNamespaces) == 1 {
			return desc, nil
		}
	}
	return namespaceDescriptor{}, fmt.Errorf("load-ns reply for %s carried no matching namespace", ns)
}

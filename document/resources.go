package document

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/wudi/pdfedit/contentstream"
)

// maxTreeDepth bounds the walk up /Parent links when looking for inherited
// resources.
const maxTreeDepth = 64

func (d *Document) ensureFont(p *pageState) (string, error) {
	if p.fontName != "" {
		return p.fontName, nil
	}
	if d.fontRef == nil {
		ref, err := d.ctx.IndRefForNewObject(types.Dict{
			"Type":     types.Name("Font"),
			"Subtype":  types.Name("Type1"),
			"BaseFont": types.Name(standardFont),
			"Encoding": types.Name("WinAnsiEncoding"),
		})
		if err != nil {
			return "", err
		}
		d.fontRef = ref
	}
	fonts, err := d.resourceCategory(p, "Font")
	if err != nil {
		return "", err
	}
	name, _ := uniqueName(fonts, fontResourcePrefix, 1)
	fonts[name] = *d.fontRef
	p.fontName = name
	return name, nil
}

func (d *Document) addXObject(p *pageState, ref types.IndirectRef) (string, error) {
	xobjects, err := d.resourceCategory(p, "XObject")
	if err != nil {
		return "", err
	}
	name, seq := uniqueName(xobjects, imageResourcePrefix, p.imageSeq+1)
	p.imageSeq = seq
	xobjects[name] = ref
	return name, nil
}

func uniqueName(d types.Dict, prefix string, start int) (string, int) {
	for i := start; ; i++ {
		name := fmt.Sprintf("%s%d", prefix, i)
		if _, taken := d[name]; !taken {
			return name, i
		}
	}
}

// resourceCategory returns a page-private copy of one resource category
// (Font, XObject, ...), installing it in a page-private resource dictionary.
// Shared or inherited dictionaries are never modified.
func (d *Document) resourceCategory(p *pageState, key string) (types.Dict, error) {
	res, err := d.pageResources(p)
	if err != nil {
		return nil, err
	}
	var src types.Dict
	if obj, ok := res[key]; ok && obj != nil {
		if src, err = d.ctx.DereferenceDict(obj); err != nil {
			return nil, fmt.Errorf("resources /%s: %w", key, err)
		}
	}
	out := types.Dict{}
	for k, v := range src {
		out[k] = v
	}
	res[key] = out
	return out, nil
}

func (d *Document) pageResources(p *pageState) (types.Dict, error) {
	if p.res != nil {
		return p.res, nil
	}
	var src types.Dict
	node := p.dict
	for depth := 0; node != nil && depth < maxTreeDepth; depth++ {
		if obj, ok := node["Resources"]; ok && obj != nil {
			r, err := d.ctx.DereferenceDict(obj)
			if err != nil {
				return nil, fmt.Errorf("resources: %w", err)
			}
			src = r
			break
		}
		parent, ok := node["Parent"]
		if !ok || parent == nil {
			break
		}
		pd, err := d.ctx.DereferenceDict(parent)
		if err != nil {
			return nil, fmt.Errorf("page parent: %w", err)
		}
		node = pd
	}
	res := types.Dict{}
	for k, v := range src {
		res[k] = v
	}
	p.dict["Resources"] = res
	p.res = res
	return res, nil
}

func (d *Document) contentStream(data []byte) (*types.IndirectRef, error) {
	sd, err := d.ctx.NewStreamDictForBuf(data)
	if err != nil {
		return nil, err
	}
	if err := sd.Encode(); err != nil {
		return nil, err
	}
	return d.ctx.IndRefForNewObject(*sd)
}

// appendContent adds ops as a new content stream at the end of the page. The
// first addition to a page brackets the existing content in q/Q.
func (d *Document) appendContent(p *pageState, ops []contentstream.Operation) error {
	data := contentstream.Serialize(ops)
	if !p.wrapped {
		existing, err := d.contentArray(p.dict)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			prefix, suffix := contentstream.Wrap()
			pre, err := d.contentStream(contentstream.Serialize(prefix))
			if err != nil {
				return err
			}
			p.contents = append(types.Array{*pre}, existing...)
			data = append(contentstream.Serialize(suffix), data...)
		}
		p.wrapped = true
	}
	ref, err := d.contentStream(data)
	if err != nil {
		return err
	}
	p.contents = append(p.contents, *ref)
	p.dict["Contents"] = p.contents
	return nil
}

func (d *Document) contentArray(dict types.Dict) (types.Array, error) {
	obj, ok := dict["Contents"]
	if !ok || obj == nil {
		return nil, nil
	}
	switch v := obj.(type) {
	case types.IndirectRef:
		target, err := d.ctx.Dereference(v)
		if err != nil {
			return nil, fmt.Errorf("contents: %w", err)
		}
		if target == nil {
			return nil, nil
		}
		if arr, ok := target.(types.Array); ok {
			return append(types.Array(nil), arr...), nil
		}
		return types.Array{v}, nil
	case types.Array:
		return append(types.Array(nil), v...), nil
	}
	return nil, fmt.Errorf("unexpected /Contents type %T", obj)
}

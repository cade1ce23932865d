package cli

import (
	"archivecore/internal/app"
	"archivecore/internal/blob"
	"archivecore/internal/changeset"
	"archivecore/internal/core"
	"archivecore/pkg/domain"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// LoadItem is one record in a load file. Parent and id-valued attributes may
// name an earlier item as "@<ref>".
type LoadItem struct {
	Ref        string                    `json:"ref"`
	Type       domain.RecordType         `json:"type"`
	Parent     string                    `json:"parent,omitempty"`
	Attributes map[string][]domain.Value `json:"attributes"`
	Files      []string                  `json:"files,omitempty"`
}

// LoadResult maps load refs to the ids they were saved under.
type LoadResult struct {
	IDs map[string]domain.ID `json:"ids"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file.json>",
		Short: "Save the records described in a JSON file",
		Long: `Load reads a JSON array of {ref, type, parent, attributes, files} items and
saves each through the persister with a single buffered index flush. Files are
uploaded to the blob store (paths relative to the load file) and ingested as
file sets of their item.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := readLoadFile(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), rootOpts, func(ctx context.Context, rt *app.Runtime) error {
				res, err := loadItems(ctx, rt, filepath.Dir(args[0]), items)
				if err != nil {
					return err
				}
				f := newFormatter(rootOpts, cmd.OutOrStdout())
				if f.Format == "json" {
					return f.JSON(res)
				}
				for _, item := range items {
					if _, err := fmt.Fprintf(f.Writer, "%s\t%s\n", item.Ref, res.IDs[item.Ref]); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func readLoadFile(path string) ([]LoadItem, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied load file
	if err != nil {
		return nil, fmt.Errorf("read load file: %w", err)
	}
	var items []LoadItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for i, item := range items {
		if item.Type == "" {
			return nil, fmt.Errorf("item %d: type is required", i)
		}
		if item.Ref == "" {
			items[i].Ref = fmt.Sprintf("item%d", i)
		}
	}
	return items, nil
}

func loadItems(ctx context.Context, rt *app.Runtime, baseDir string, items []LoadItem) (LoadResult, error) {
	res := LoadResult{IDs: make(map[string]domain.ID, len(items))}
	resolve := func(ref string) (domain.ID, error) {
		if name, ok := strings.CutPrefix(ref, "@"); ok {
			id, found := res.IDs[name]
			if !found {
				return "", fmt.Errorf("unknown ref %q", ref)
			}
			return id, nil
		}
		return domain.ID(ref), nil
	}
	err := rt.Persister.WithBufferedIndex(ctx, func(p *core.Persister) error {
		for _, item := range items {
			parent, err := resolve(item.Parent)
			if err != nil {
				return fmt.Errorf("%s: %w", item.Ref, err)
			}
			attrs := make(map[string][]domain.Value, len(item.Attributes))
			for name, values := range item.Attributes {
				out := make([]domain.Value, len(values))
				for i, v := range values {
					out[i] = v
					if v.IsRef() {
						id, err := resolve(v.ID().String())
						if err != nil {
							return fmt.Errorf("%s.%s: %w", item.Ref, name, err)
						}
						out[i] = domain.Ref(id)
					}
				}
				attrs[name] = out
			}
			files, err := uploadFiles(ctx, rt.Files, baseDir, item.Files)
			if err != nil {
				return fmt.Errorf("%s: %w", item.Ref, err)
			}
			cs := p.Drafts().For(domain.NewRecord(item.Type), changeset.WorkDirectives{AppendID: parent, Files: files})
			if !cs.Validate(attrs) {
				return fmt.Errorf("%s: %w", item.Ref, &domain.ValidationError{Type: item.Type, Fields: cs.Errors()})
			}
			rec, err := p.Save(ctx, cs)
			if err != nil {
				return fmt.Errorf("%s: %w", item.Ref, err)
			}
			res.IDs[item.Ref] = rec.ID
		}
		return nil
	})
	return res, err
}

func uploadFiles(ctx context.Context, files *blob.Repository, baseDir string, paths []string) ([]domain.PendingFile, error) {
	out := make([]domain.PendingFile, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		fh, err := os.Open(p) // #nosec G304 -- paths come from the operator's load file
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
		info, err := files.Upload(ctx, fh, blob.UploadOptions{Filename: filepath.Base(p)})
		_ = fh.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PendingFile{FileID: string(info.FileID), Filename: info.Filename, Size: info.Size})
	}
	return out, nil
}

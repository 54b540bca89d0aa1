package treesync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/function61/peili/pkg/fsnode"
	"github.com/olekukonko/tablewriter"
)

// printChange emits one deterministic change line, e.g.
//
//	+ dst/sub/ [d]
//	M dst/f1 [f] (mtime,size)
//	- dst/old [f]
func (s *Syncer) printChange(prefix string, path string, node *fsnode.Node, detail string) {
	if s.cfg.Verbose == 0 {
		return
	}

	line := fmt.Sprintf("%s %s%s", prefix, path, dirSuffix(node))

	if node.Kind == fsnode.Symlink && node.LinkTarget != "" {
		line += " -> " + node.LinkTarget
	}

	line += " " + node.Markers()

	if detail != "" {
		line += " (" + detail + ")"
	}

	fmt.Println(line)
}

func dirSuffix(node *fsnode.Node) string {
	if node.Kind == fsnode.Dir {
		return "/"
	}
	return ""
}

// List prints one directory level (or, with recursion enabled, the
// whole tree) in ascending name order, with per-node capability
// markers and - verbosely - ACL and attribute dumps.
func (s *Syncer) List(path string, out io.Writer) error {
	table, err := s.loadLevel(path)
	if err != nil {
		return err
	}

	return table.ForEach(func(name string, node *fsnode.Node) error {
		line := name + dirSuffix(node)
		if node.Kind == fsnode.Symlink {
			line += " -> " + node.LinkTarget
		}

		if _, err := fmt.Fprintf(out, "%s %s\n", line, node.Markers()); err != nil {
			return err
		}

		if s.cfg.Verbose > 0 {
			if err := listDetails(node, out); err != nil {
				return err
			}
		}

		if node.Kind == fsnode.Dir && s.cfg.Recurse {
			return s.List(filepath.Join(path, name), out)
		}

		return nil
	})
}

func listDetails(node *fsnode.Node, out io.Writer) error {
	aclLines := []struct {
		title string
		text  string
	}{
		{"NFSv4/ZFS ACL", node.ACLNFS4.Text()},
		{"POSIX access ACL", node.ACLAccess.Text()},
		{"POSIX default ACL", node.ACLDefault.Text()},
	}
	for _, acl := range aclLines {
		if acl.text == "" {
			continue
		}
		if _, err := fmt.Fprintf(out, "    %s: %s\n", acl.title, acl.text); err != nil {
			return err
		}
	}

	attrTables := []struct {
		title string
		attrs interface {
			ForEach(func(string, []byte) error) error
			Len() int
		}
	}{
		{"system attributes", node.AttrsSystem},
		{"user attributes", node.AttrsUser},
	}
	for _, attrTable := range attrTables {
		if attrTable.attrs.Len() == 0 {
			continue
		}
		if _, err := fmt.Fprintf(out, "    %s:\n", attrTable.title); err != nil {
			return err
		}
		if err := attrTable.attrs.ForEach(func(name string, value []byte) error {
			_, err := fmt.Fprintf(out, "      %s = %q\n", name, value)
			return err
		}); err != nil {
			return err
		}
	}

	return nil
}

// PrintSummary renders end-of-run statistics.
func (s *Syncer) PrintSummary() {
	tblBuilder := tablewriter.NewWriter(os.Stdout)
	tblBuilder.SetAutoFormatHeaders(false)
	tblBuilder.SetBorder(false)
	tblBuilder.SetHeader([]string{"Created", "Updated", "Removed", "Unchanged", "Errors", "Bytes copied"})
	tblBuilder.Append([]string{
		strconv.Itoa(s.stats.Created),
		strconv.Itoa(s.stats.Updated),
		strconv.Itoa(s.stats.Removed),
		strconv.Itoa(s.stats.Unchanged),
		strconv.Itoa(s.stats.Errors),
		strconv.FormatInt(s.stats.BytesCopied, 10),
	})
	tblBuilder.Render()
}

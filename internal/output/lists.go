package output

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/dsablic/linestat/internal/language"
	"github.com/dsablic/linestat/internal/model"
)

func render(w io.Writer, header []string, data [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(header)
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// WriteAccounts lists accounts without their tokens.
func WriteAccounts(w io.Writer, accounts []model.Account) error {
	data := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		active := "no"
		if a.Active {
			active = "yes"
		}
		data = append(data, []string{
			strconv.FormatInt(a.ID, 10),
			string(a.Platform),
			a.Username,
			a.BaseURL,
			active,
			a.CreatedAt.Format(time.DateOnly),
		})
	}
	return render(w, []string{"ID", "Platform", "Username", "Base URL", "Active", "Created"}, data)
}

// WriteRepositories lists tracked repositories with their last scan.
func WriteRepositories(w io.Writer, repos []model.RepositoryRecord) error {
	data := make([][]string, 0, len(repos))
	for _, r := range repos {
		scanned := "never"
		if !r.LastScannedAt.IsZero() {
			scanned = r.LastScannedAt.UTC().Format(time.DateTime)
		}
		fp := r.ChangeFingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		data = append(data, []string{strconv.FormatInt(r.AccountID, 10), r.Name, fp, scanned})
	}
	return render(w, []string{"Account", "Repository", "Commit", "Last scanned"}, data)
}

// WriteLanguages lists the classifier table in precedence order.
func WriteLanguages(w io.Writer, defs []language.Definition) error {
	data := make([][]string, 0, len(defs))
	for _, d := range defs {
		comment := ""
		if d.Comment != nil {
			comment = d.Comment.String()
		}
		data = append(data, []string{d.Normalized(), strings.Join(d.Extensions, " "), comment})
	}
	return render(w, []string{"Language", "Extensions", "Comment pattern"}, data)
}

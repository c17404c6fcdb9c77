package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	bankfiledomain "github.com/rumbosoft/rumbo/internal/bankfile/domain"
)

// BuildManifest renders the cover sheet operators file alongside the raw
// batch: batch identity, control totals, and one line per record.
func (s *service) BuildManifest(ctx context.Context, id snowflake.ID) (*bankfiledomain.PresentmentBatch, []byte, error) {
	batch, err := s.repo.FindBatchByID(ctx, s.db, id)
	if err != nil {
		return nil, nil, err
	}
	if batch == nil {
		return nil, nil, bankfiledomain.ErrBatchNotFound
	}
	rows, err := s.repo.ListRowsByBatch(ctx, s.db, batch.ID)
	if err != nil {
		return nil, nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(14,
		text.NewCol(8, "Presentment batch manifest", props.Text{
			Size:  16,
			Style: fontstyle.Bold,
		}),
		text.NewCol(4, string(batch.Direction), props.Text{
			Size:  12,
			Align: align.Right,
		}),
	)

	m.AddRow(26,
		col.New(6).Add(
			text.New("File: "+batch.FileName, props.Text{Top: 0, Size: 9}),
			text.New("Channel: "+batch.Channel, props.Text{Top: 4, Size: 9}),
			text.New("Business date: "+batch.BusinessDate.Format("2006-01-02"), props.Text{Top: 8, Size: 9}),
			text.New("Built at: "+batch.CreatedAt.Format("2006-01-02 15:04:05 MST"), props.Text{Top: 12, Size: 9}),
		),
		col.New(6).Add(
			text.New(fmt.Sprintf("Records: %d", batch.RecordCount), props.Text{Top: 0, Size: 9}),
			text.New("Total: "+bankfiledomain.FormatAmount(batch.AmountCents), props.Text{Top: 4, Size: 9}),
			text.New("Checksum: "+batch.Checksum, props.Text{Top: 8, Size: 7}),
		),
	)

	if len(batch.Warnings) > 0 {
		m.AddRow(8,
			text.NewCol(12, fmt.Sprintf("Warnings (%d)", len(batch.Warnings)), props.Text{
				Size:  10,
				Style: fontstyle.Bold,
			}),
		)
		for _, warning := range batch.Warnings {
			m.AddRow(5, text.NewCol(12, warning, props.Text{Size: 8}))
		}
	}

	m.AddRow(8,
		text.NewCol(1, "Line", props.Text{Style: fontstyle.Bold, Size: 8}),
		text.NewCol(4, "Reference", props.Text{Style: fontstyle.Bold, Size: 8}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 8, Align: align.Right}),
		text.NewCol(2, "Code", props.Text{Style: fontstyle.Bold, Size: 8}),
		text.NewCol(3, "Outcome", props.Text{Style: fontstyle.Bold, Size: 8}),
	)
	for _, row := range rows {
		code := "-"
		if row.ResultCode != nil && *row.ResultCode != "" {
			code = *row.ResultCode
		}
		m.AddRow(6,
			text.NewCol(1, fmt.Sprintf("%d", row.LineNo), props.Text{Size: 8}),
			text.NewCol(4, row.ExternalReference, props.Text{Size: 8}),
			text.NewCol(2, bankfiledomain.FormatAmount(row.AmountCents), props.Text{Size: 8, Align: align.Right}),
			text.NewCol(2, code, props.Text{Size: 8}),
			text.NewCol(3, string(row.Outcome), props.Text{Size: 8}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, nil, fmt.Errorf("bankfile: manifest render: %w", err)
	}
	return batch, doc.GetBytes(), nil
}

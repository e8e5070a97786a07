package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"taskline/internal/domain"
	"taskline/internal/events"
)

const timeLayout = "2006-01-02 15:04"

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printEntities renders a mixed listing. JSON output uses the tagged item
// form so the kind survives.
func printEntities(ents []domain.Entity) error {
	if viper.GetBool("json") {
		return printJSON(domain.Items(ents))
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Type", "Name", "Status", "Epic", "Start", "Minutes", "End"})
	for _, e := range ents {
		tw.AppendRow(entityRow(domain.ItemOf(e)))
	}
	tw.Render()
	return nil
}

func printEntity(e domain.Entity) error {
	if viper.GetBool("json") {
		return printJSON(e)
	}
	it := domain.ItemOf(e)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"ID", it.ID})
	tw.AppendRow(table.Row{"Type", it.Type})
	tw.AppendRow(table.Row{"Name", it.Name})
	if it.Description != "" {
		tw.AppendRow(table.Row{"Description", it.Description})
	}
	tw.AppendRow(table.Row{"Status", it.Status})
	if it.EpicID != 0 {
		tw.AppendRow(table.Row{"Epic", it.EpicID})
	}
	row := entityRow(it)
	if row[5] != "" {
		tw.AppendRow(table.Row{"Start", row[5]})
		tw.AppendRow(table.Row{"Minutes", row[6]})
		tw.AppendRow(table.Row{"End", row[7]})
	}
	if it.Type == domain.KindEpic {
		tw.AppendRow(table.Row{"Subtasks", fmt.Sprint(it.SubtaskIDs)})
	}
	tw.Render()
	return nil
}

func entityRow(it domain.Item) table.Row {
	epic, start, minutes, end := "", "", "", ""
	if it.EpicID != 0 {
		epic = strconv.Itoa(it.EpicID)
	}
	switch {
	case it.Schedule != nil:
		start = it.Schedule.Start.Format(timeLayout)
		minutes = strconv.Itoa(it.Schedule.Minutes)
		end = it.Schedule.End().Format(timeLayout)
	case it.Span != nil:
		start = it.Span.Start.Format(timeLayout)
		minutes = strconv.Itoa(it.Span.Minutes)
		end = it.Span.End.Format(timeLayout)
	}
	return table.Row{it.ID, it.Type, it.Name, it.Status, epic, start, minutes, end}
}

func printEvents(evts []events.Event) error {
	if viper.GetBool("json") {
		return printJSON(evts)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Time", "Type", "Kind", "Entity"})
	for _, e := range evts {
		entity := ""
		if e.EntityID != 0 {
			entity = strconv.Itoa(e.EntityID)
		}
		ts := e.TS
		if parsed, err := time.Parse(time.RFC3339Nano, e.TS); err == nil {
			ts = parsed.Local().Format("2006-01-02 15:04:05")
		}
		tw.AppendRow(table.Row{e.ID, ts, e.Type, e.EntityKind, entity})
	}
	tw.Render()
	return nil
}

func asEntities[T domain.Entity](items []T) []domain.Entity {
	out := make([]domain.Entity, 0, len(items))
	for _, it := range items {
		out = append(out, it)
	}
	return out
}

package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// DefaultColumnMapping renames the portal's export headers to their
// database column names. Extend per deployment; unmapped headers are
// lower-snake-cased as-is.
var DefaultColumnMapping = map[string]string{
	"Data Criacao":             "data_criacao",
	"VTA PK":                   "vta_pk",
	"Raiz":                     "raiz",
	"Tíquete Referência":       "tiquete_referencia",
	"Tipo de Bilhete":          "tipo_de_bilhete",
	"Tipo de Alarme":           "tipo_de_alarme",
	"Tipo de Afetação":         "tipo_de_afetacao",
	"Tipo TA":                  "tipo_ta",
	"Tipo de Planta":           "tipo_de_planta",
	"Código Localidade":        "codigo_localidade",
	"Codigo Gerencia":          "codigo_gerencia",
	"Sigla Estado":             "sigla_estado",
	"Sigla Município":          "sigla_municipio",
	"Nome Município":           "nome_municipio",
	"Bairro":                   "bairro",
	"Código Site":              "codigo_site",
	"Sigla Site V2":            "sigla_site_v2",
	"Empresa Manutenção":       "empresa_manutencao",
	"Grupo Responsavel":        "grupo_responsavel",
	"Status":                   "status",
	"Data de Baixa":            "data_de_baixa",
	"Data Encerramento":        "data_encerramento",
	"Baixa Causa":              "baixa_causa",
	"Baixado por Usuário nome": "baixado_por_usuario_nome",
	"Baixado por Grupo":        "baixado_por_grupo",
	"Observação Histórico":     "observacao_historico",
	"Alarme":                   "alarme",
}

// Columns parsed as timestamps after renaming.
var defaultDateColumns = []string{"data_criacao", "data_de_baixa", "data_encerramento"}

// Columns holding numeric IDs the portal exports with float artifacts.
var defaultIDColumns = []string{"vta_pk", "raiz", "codigo_localidade"}

const (
	createdColumn = "data_criacao"
	closedColumn  = "data_de_baixa"
	refColumn     = "dt_ref"

	referenceTimezone = "America/Sao_Paulo"
)

// Day-first layouts the portal has been seen exporting, most specific first.
var dateLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Placeholder strings the export uses for empty cells.
var nullPlaceholders = map[string]bool{
	"": true, "nan": true, "None": true, "NaT": true, "null": true,
}

// Handler reads the exported spreadsheet and applies the standing
// transformations: header renaming, date parsing, the historical cutoff
// filter, ID normalization and NULL cleanup.
type Handler struct {
	mapping     map[string]string
	dateColumns []string
	idColumns   []string
	logger      *zap.Logger
	now         func() time.Time
	loc         *time.Location
}

// NewHandler builds a Handler with the default portal mapping. The
// reference clock runs in São Paulo time, matching the portal's own
// business-day boundary.
func NewHandler(logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := time.LoadLocation(referenceTimezone)
	if err != nil {
		logger.Warn("reference timezone unavailable, using local clock", zap.Error(err))
		loc = time.Local
	}
	return &Handler{
		mapping:     DefaultColumnMapping,
		dateColumns: defaultDateColumns,
		idColumns:   defaultIDColumns,
		logger:      logger,
		now:         time.Now,
		loc:         loc,
	}
}

// Process reads the spreadsheet at path and returns the transformed
// dataset. Routine problems (unreadable file, missing cutoff columns)
// come back as a failed Result, never a panic.
func (h *Handler) Process(path string) Result {
	rows, err := h.readSheet(path)
	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("reading spreadsheet: %v", err)}
	}
	if len(rows) < 1 {
		return Result{Success: false, Message: "spreadsheet has no header row"}
	}

	ds := h.buildDataset(rows)
	h.parseDateColumns(ds)

	if ds.columnIndex(createdColumn) < 0 || ds.columnIndex(closedColumn) < 0 {
		return Result{
			Success: false,
			Message: fmt.Sprintf("export is missing %s/%s columns", createdColumn, closedColumn),
		}
	}

	h.insertReferenceDate(ds)
	before := ds.NumRows()
	h.filterCutoff(ds)
	h.normalizeIDColumns(ds)
	h.scrubPlaceholders(ds)

	h.logger.Info("spreadsheet transformed",
		zap.String("file", path),
		zap.Int("rows_in", before),
		zap.Int("rows_out", ds.NumRows()))

	return Result{Success: true, Message: "spreadsheet processed", Dataset: ds}
}

// readSheet loads the first sheet as a string matrix.
func (h *Handler) readSheet(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			h.logger.Warn("closing spreadsheet", zap.Error(cerr))
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets in %s", path)
	}
	return f.GetRows(sheets[0])
}

// buildDataset renames headers and pads short rows so every row has a cell
// per column.
func (h *Handler) buildDataset(rows [][]string) *Dataset {
	header := rows[0]
	columns := make([]Column, len(header))
	for i, name := range header {
		renamed, ok := h.mapping[strings.TrimSpace(name)]
		if !ok {
			renamed = snakeCase(name)
		}
		columns[i] = Column{Name: renamed, Kind: KindText}
	}

	data := make([][]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		cells := make([]any, len(columns))
		for i := range columns {
			if i < len(row) {
				cells[i] = row[i]
			} else {
				cells[i] = ""
			}
		}
		data = append(data, cells)
	}

	return &Dataset{Columns: columns, Rows: data}
}

func (h *Handler) parseDateColumns(ds *Dataset) {
	for _, name := range h.dateColumns {
		idx := ds.columnIndex(name)
		if idx < 0 {
			continue
		}
		ds.Columns[idx].Kind = KindTimestamp
		for _, row := range ds.Rows {
			raw, _ := row[idx].(string)
			if t, ok := parseDate(raw); ok {
				row[idx] = t
			} else {
				// Unparseable dates become NULL rather than failing the file.
				row[idx] = nil
			}
		}
	}
}

// insertReferenceDate prepends dt_ref, the business date the load covers
// (yesterday in the reference timezone).
func (h *Handler) insertReferenceDate(ds *Dataset) {
	ref := h.now().In(h.loc).AddDate(0, 0, -1).Format("2006-01-02")

	ds.Columns = append([]Column{{Name: refColumn, Kind: KindDate}}, ds.Columns...)
	for i, row := range ds.Rows {
		ds.Rows[i] = append([]any{ref}, row...)
	}
}

// filterCutoff keeps closed tickets from before today plus still-open
// tickets, both by the reference clock. Tickets touched today belong to
// tomorrow's load.
func (h *Handler) filterCutoff(ds *Dataset) {
	cutoff := h.cutoff()
	createdIdx := ds.columnIndex(createdColumn)
	closedIdx := ds.columnIndex(closedColumn)

	kept := ds.Rows[:0]
	for _, row := range ds.Rows {
		created, hasCreated := cellTime(row[createdIdx])
		if !hasCreated || !created.Before(cutoff) {
			continue
		}
		closed, hasClosed := cellTime(row[closedIdx])
		if hasClosed && !closed.Before(cutoff) {
			continue
		}
		kept = append(kept, row)
	}
	ds.Rows = kept
}

// cutoff is today at midnight in the reference timezone, compared naive.
func (h *Handler) cutoff() time.Time {
	now := h.now().In(h.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// normalizeIDColumns strips float artifacts ("1234.0") and maps zero IDs
// to NULL.
func (h *Handler) normalizeIDColumns(ds *Dataset) {
	for _, name := range h.idColumns {
		idx := ds.columnIndex(name)
		if idx < 0 {
			continue
		}
		for _, row := range ds.Rows {
			raw, ok := row[idx].(string)
			if !ok {
				continue
			}
			row[idx] = normalizeID(raw)
		}
	}
}

func (h *Handler) scrubPlaceholders(ds *Dataset) {
	for _, row := range ds.Rows {
		for i, cell := range row {
			if s, ok := cell.(string); ok && nullPlaceholders[strings.TrimSpace(s)] {
				row[i] = nil
			}
		}
	}
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || nullPlaceholders[raw] {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func normalizeID(raw string) any {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, ".0")
	if s == "" || s == "0" || nullPlaceholders[s] {
		return nil
	}
	return s
}

// snakeCase lowercases a header and joins words with underscores. Keeps
// non-ASCII letters untouched; the portal headers are plain words.
func snakeCase(name string) string {
	fields := strings.Fields(strings.TrimSpace(name))
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return strings.Join(fields, "_")
}

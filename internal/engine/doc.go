// Package engine содержит статическую часть движка: граф и валидацию шаблонов.
//
// Включает:
//   - graph.go     — индекс рёбер, точки входа, достижимость, циклы
//   - validator.go — проверки шаблона с FAILURE/WARNING диагностиками
//   - catalog.go   — кэш проверенных версий с явной инвалидацией
//   - render.go    — рендеринг Go templates ({{ .Variables.x }})
package engine

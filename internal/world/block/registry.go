package block

// BlockType представляет тип блока вокселя. Хранится одним байтом;
// Air всегда 0 и служит универсальным признаком пустоты.
type BlockType byte

// Константы типов блоков
const (
	Air    BlockType = iota // 0
	Dirt                    // 1
	Grass                   // 2
	Stone                   // 3
	Sand                    // 4
	Log                     // 5
	Leaves                  // 6
	Cactus                  // 7

	typeCount // служебный счетчик, блоком не является
)

// TypeCount количество допустимых типов блоков (включая Air)
const TypeCount = int(typeCount)

// Color цвет в трех нормализованных каналах [0,1]
type Color struct {
	R, G, B float32
}

// Material описывает визуальные свойства типа блока
type Material struct {
	Name  string
	Color Color
}

// MaterialTable фиксированная таблица материалов, индексируется BlockType
type MaterialTable [typeCount]Material

// defaultMaterials таблица по умолчанию. Записи для Air нет:
// воздух никогда не попадает в меш.
var defaultMaterials = MaterialTable{
	Dirt:   {Name: "dirt", Color: Color{R: 0.545, G: 0.271, B: 0.075}},
	Grass:  {Name: "grass", Color: Color{R: 0.133, G: 0.545, B: 0.133}},
	Stone:  {Name: "stone", Color: Color{R: 0.502, G: 0.502, B: 0.502}},
	Sand:   {Name: "sand", Color: Color{R: 0.761, G: 0.698, B: 0.502}},
	Log:    {Name: "log", Color: Color{R: 0.396, G: 0.263, B: 0.129}},
	Leaves: {Name: "leaves", Color: Color{R: 0.196, G: 0.804, B: 0.196}},
	Cactus: {Name: "cactus", Color: Color{R: 0.180, G: 0.545, B: 0.341}},
}

// DefaultMaterials возвращает копию таблицы материалов по умолчанию.
// Таблица передается мешеру при создании, глобальное состояние не изменяется.
func DefaultMaterials() MaterialTable {
	return defaultMaterials
}

// Lookup возвращает материал для типа блока.
// Для Air и неизвестных типов возвращается false.
func (mt *MaterialTable) Lookup(t BlockType) (Material, bool) {
	if t == Air || !t.IsValid() {
		return Material{}, false
	}
	return mt[t], true
}

// IsValid проверяет, что значение является допустимым типом блока
func (t BlockType) IsValid() bool {
	return t < typeCount
}

// IsAir проверяет, является ли блок пустотой
func (t BlockType) IsAir() bool {
	return t == Air
}

// Name возвращает имя типа блока
func (t BlockType) Name() string {
	switch {
	case t == Air:
		return "air"
	case t.IsValid():
		return defaultMaterials[t].Name
	default:
		return "unknown"
	}
}

package block

import "testing"

func TestBlockTypeValidity(t *testing.T) {
	for i := 0; i < TypeCount; i++ {
		if !BlockType(i).IsValid() {
			t.Errorf("Тип %d должен быть допустимым", i)
		}
	}

	if BlockType(TypeCount).IsValid() {
		t.Errorf("Тип %d не должен быть допустимым", TypeCount)
	}

	if !Air.IsAir() {
		t.Error("Air должен считаться пустотой")
	}

	if Stone.IsAir() {
		t.Error("Stone не должен считаться пустотой")
	}
}

func TestMaterialLookup(t *testing.T) {
	mt := DefaultMaterials()

	// Для Air материала нет
	if _, ok := mt.Lookup(Air); ok {
		t.Error("Для Air не должно быть материала")
	}

	// Для всех твердых типов материал есть, каналы цвета в [0,1]
	for bt := Dirt; bt <= Cactus; bt++ {
		m, ok := mt.Lookup(bt)
		if !ok {
			t.Errorf("Материал для %s не найден", bt.Name())
			continue
		}

		for _, c := range []float32{m.Color.R, m.Color.G, m.Color.B} {
			if c < 0 || c > 1 {
				t.Errorf("Канал цвета %s вне [0,1]: %f", bt.Name(), c)
			}
		}
	}

	// Неизвестный тип тоже без материала
	if _, ok := mt.Lookup(BlockType(200)); ok {
		t.Error("Для неизвестного типа не должно быть материала")
	}
}

func TestBlockTypeNames(t *testing.T) {
	cases := map[BlockType]string{
		Air:    "air",
		Dirt:   "dirt",
		Grass:  "grass",
		Stone:  "stone",
		Sand:   "sand",
		Log:    "log",
		Leaves: "leaves",
		Cactus: "cactus",
	}

	for bt, want := range cases {
		if got := bt.Name(); got != want {
			t.Errorf("Имя типа %d: ожидалось %q, получено %q", bt, want, got)
		}
	}

	if got := BlockType(99).Name(); got != "unknown" {
		t.Errorf("Для неизвестного типа ожидалось unknown, получено %q", got)
	}
}

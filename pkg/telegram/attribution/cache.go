package attribution

// Attribution — результат определения поста: OK=false означает, что пост не найден.
type Attribution struct {
	PostID int
	OK     bool
}

// Cache хранит результаты определения поста в пределах одного запуска.
// Значение для ID записывается один раз и дальше не меняется.
// Кэш не потокобезопасен: запуск обрабатывает сообщения последовательно.
type Cache struct {
	items map[int]Attribution
}

func NewCache() *Cache {
	return &Cache{items: make(map[int]Attribution)}
}

func (c *Cache) Get(id int) (Attribution, bool) {
	a, ok := c.items[id]
	return a, ok
}

// Set записывает значение, только если для ID его ещё нет.
func (c *Cache) Set(id int, a Attribution) {
	if _, exists := c.items[id]; exists {
		return
	}
	c.items[id] = a
}

func (c *Cache) Len() int { return len(c.items) }
